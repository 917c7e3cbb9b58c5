package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   NormalizedPhone
		wantOK bool
	}{
		{"dashed", "010-4914-8478", "01049148478", true},
		{"plain", "01049148478", "01049148478", true},
		{"spaces and parens", " (010) 4914 8478 ", "01049148478", true},
		{"country code", "+82 10-4914-8478", "01049148478", true},
		{"country code with trunk zero", "+82 010 4914 8478", "01049148478", true},
		{"ten digits without trunk zero", "1049148478", "01049148478", true},
		{"legacy short prefix", "016-491-8478", "01064918478", true},
		{"landline", "02-123-4567", "", false},
		{"too short", "010-1234", "", false},
		{"too long", "010-1234-56789", "", false},
		{"empty", "", "", false},
		{"letters only", "no phone", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePhone(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	inputs := []string{"010-4914-8478", "+821012345678", "1099998888", "016-491-8478"}
	for _, raw := range inputs {
		once, ok := NormalizePhone(raw)
		assert.True(t, ok, raw)
		twice, ok := NormalizePhone(string(once))
		assert.True(t, ok, raw)
		assert.Equal(t, once, twice, raw)
	}
}

func TestNormalizePhone_DistinctNumbersStayDistinct(t *testing.T) {
	a, _ := NormalizePhone("010-4914-8478")
	b, _ := NormalizePhone("010-4914-0000")
	assert.NotEqual(t, a, b)

	set := NewPhoneSet(a)
	assert.True(t, set.Has(a))
	assert.False(t, set.Has(b))
}

func TestNormalizedPhone_Display(t *testing.T) {
	assert.Equal(t, "010-4914-8478", NormalizedPhone("01049148478").Display())
}

func TestNormalizeAll_DropsUnmatchable(t *testing.T) {
	got := NormalizeAll([]string{"010-1111-2222", "02-000-0000", "+82 10 3333 4444"})
	assert.Equal(t, []NormalizedPhone{"01011112222", "01033334444"}, got)
}

func TestMessageKind(t *testing.T) {
	k, ok := ParseMessageKind("sms300")
	assert.True(t, ok)
	assert.Equal(t, KindLMS, k)

	_, ok = ParseMessageKind("fax")
	assert.False(t, ok)

	assert.Equal(t, 4, MessageBytes("ab가"))
	assert.Equal(t, KindSMS, ResolveKind(KindSMS, "short"))
	long := ""
	for i := 0; i < 46; i++ {
		long += "가"
	}
	assert.Equal(t, KindLMS, ResolveKind(KindSMS, long))
	assert.Equal(t, KindMMS, ResolveKind(KindMMS, long))
}
