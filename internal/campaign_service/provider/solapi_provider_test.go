package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

func newTestSolapi(t *testing.T, handler http.HandlerFunc) *SolapiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewSolapiProvider(logger, server.URL, "test-key", "test-secret", "0212345678", server.Client())
	p.now = func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) }
	return p
}

var authPattern = regexp.MustCompile(`^HMAC-SHA256 apiKey=(\S+), date=(\S+), salt=(\S+), signature=([0-9a-f]{64})$`)

func TestSolapiProvider_GetName(t *testing.T) {
	p := NewSolapiProvider(slog.New(slog.NewTextHandler(io.Discard, nil)), "url", "k", "s", "from", nil)
	assert.Equal(t, "solapi", p.GetName())
}

func TestSolapiProvider_Send_Success(t *testing.T) {
	p := newTestSolapi(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, solapiSendPath, r.URL.Path)

		m := authPattern.FindStringSubmatch(r.Header.Get("Authorization"))
		require.Len(t, m, 5)
		assert.Equal(t, "test-key", m[1])
		assert.Equal(t, "2026-10-01T09:00:00Z", m[2])
		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write([]byte(m[2] + m[3]))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), m[4])

		var body SolapiSendRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		assert.False(t, body.AllowDuplicates)
		assert.Equal(t, "0212345678", body.Messages[0].From)
		assert.Equal(t, "MMS", body.Messages[0].Type)
		assert.Equal(t, "img-1", body.Messages[0].ImageID)
		assert.Equal(t, "key-1", body.Messages[1].CustomFields["dispatchKey"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SolapiSendResponse{
			GroupInfo: SolapiGroupInfo{GroupID: "G4V-1"},
			FailedMessageList: []SolapiFailedMessage{
				{To: "01022223333", StatusCode: "1062", StatusMessage: "blocked number"},
			},
		})
	})

	res, err := p.Send(context.Background(), SendRequest{
		DispatchKey: "key-1",
		Kind:        domain.KindMMS,
		ImageID:     "img-1",
		Messages: []OutboundMessage{
			{To: "01011112222", Text: "hello"},
			{To: "01022223333", Text: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"G4V-1"}, res.GroupIDs)
	assert.Equal(t, 1, res.AcceptedCount)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "01022223333", res.Rejected[0].Phone)
	assert.Equal(t, "1062", res.Rejected[0].Code)
}

func TestSolapiProvider_Send_FragmentsBySizeClass(t *testing.T) {
	var calls int32
	p := newTestSolapi(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var body SolapiSendRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, m := range body.Messages {
			if n == 1 {
				assert.Equal(t, "SMS", m.Type)
			} else {
				assert.Equal(t, "LMS", m.Type)
			}
		}
		_ = json.NewEncoder(w).Encode(SolapiSendResponse{GroupInfo: SolapiGroupInfo{GroupID: "G-" + string(rune('0'+n))}})
	})

	res, err := p.Send(context.Background(), SendRequest{
		DispatchKey: "key-2",
		Kind:        domain.KindSMS,
		Messages: []OutboundMessage{
			{To: "01011112222", Text: "short"},
			{To: "01033334444", Text: strings.Repeat("가", 60)},
			{To: "01055556666", Text: "also short"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"G-1", "G-2"}, res.GroupIDs)
	assert.Equal(t, 3, res.AcceptedCount)
}

func TestSolapiProvider_Send_APIError(t *testing.T) {
	p := newTestSolapi(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(SolapiErrorResponse{ErrorCode: "NotEnoughBalance", ErrorMessage: "balance too low"})
	})

	res, err := p.Send(context.Background(), SendRequest{
		DispatchKey: "key-3",
		Kind:        domain.KindLMS,
		Messages:    []OutboundMessage{{To: "01011112222", Text: "hello"}},
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "balance too low")
}

func TestSolapiProvider_Send_LaterFragmentFails(t *testing.T) {
	var calls int32
	p := newTestSolapi(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(SolapiSendResponse{GroupInfo: SolapiGroupInfo{GroupID: "G-first"}})
	})

	res, err := p.Send(context.Background(), SendRequest{
		DispatchKey: "key-4",
		Kind:        domain.KindSMS,
		Messages: []OutboundMessage{
			{To: "01011112222", Text: "short"},
			{To: "01033334444", Text: strings.Repeat("가", 60)},
		},
	})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []string{"G-first"}, res.GroupIDs)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "01033334444", res.Rejected[0].Phone)
	assert.Equal(t, rejectedSubmitFailed, res.Rejected[0].Code)
}

func TestSolapiProvider_QueryStatus(t *testing.T) {
	p := newTestSolapi(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, solapiGroupsPath+"G4V-9", r.URL.Path)
		_ = json.NewEncoder(w).Encode(SolapiGroupInfo{
			GroupID: "G4V-9",
			Status:  solapiGroupComplete,
			Count:   SolapiCount{SentSuccess: 180, SentFailed: 12, SentPending: 0, RegisteredFailed: 8},
		})
	})

	st, err := p.QueryStatus(context.Background(), "G4V-9")
	require.NoError(t, err)
	assert.Equal(t, domain.GroupStatus{GroupID: "G4V-9", Success: 180, Fail: 20, Pending: 0, Final: true}, *st)
}

func TestSolapiProvider_FindGroups(t *testing.T) {
	p := newTestSolapi(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, solapiListPath, r.URL.Path)
		assert.Equal(t, "customFields.dispatchKey", r.URL.Query().Get("criteria"))
		assert.Equal(t, "key-5", r.URL.Query().Get("value"))
		_, _ = io.WriteString(w, `{"messageList":{
			"M1":{"groupId":"G-b"},
			"M2":{"groupId":"G-a"},
			"M3":{"groupId":"G-b"}
		}}`)
	})

	groups, err := p.FindGroups(context.Background(), "key-5")
	require.NoError(t, err)
	assert.Equal(t, []string{"G-a", "G-b"}, groups)
}
