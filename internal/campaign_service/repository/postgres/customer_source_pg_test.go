package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

func setupCustomerSource(t *testing.T) (*PgCustomerSource, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewPgCustomerSource(mockPool, discardLogger()), mockPool
}

func TestPgCustomerSource_ListCandidates(t *testing.T) {
	src, mockPool := setupCustomerSource(t)
	defer mockPool.Close()

	rows := mockPool.NewRows([]string{"name", "phone", "province"}).
		AddRow("김철수", "010-1234-5678", "경기").
		AddRow("이영희", "+82 10 9876 5432", "")
	mockPool.ExpectQuery(`SELECT name, phone, province FROM customers WHERE tags && \$1::text\[\] AND province = \$2 ORDER BY id LIMIT \$3`).
		WithArgs([]string{"vip"}, "경기", 500).
		WillReturnRows(rows)

	out, err := src.ListCandidates(context.Background(), domain.CandidateFilter{Tags: []string{"vip"}, Province: "경기", Limit: 500})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "경기", out[0].Fields["province"])
	assert.Nil(t, out[1].Fields)
	assert.Equal(t, "+82 10 9876 5432", out[1].Phone, "raw phone is kept as entered")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgCustomerSource_ListAlreadyContacted(t *testing.T) {
	t.Run("Any campaign on channel", func(t *testing.T) {
		src, mockPool := setupCustomerSource(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`SELECT DISTINCT customer_phone FROM message_logs WHERE channel = \$1$`).
			WithArgs("kakao").
			WillReturnRows(mockPool.NewRows([]string{"customer_phone"}).AddRow("01012345678").AddRow("garbage"))

		phones, err := src.ListAlreadyContacted(context.Background(), domain.ChannelKakao, nil)
		require.NoError(t, err)
		assert.Equal(t, []domain.NormalizedPhone{"01012345678"}, phones)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Specific campaigns", func(t *testing.T) {
		src, mockPool := setupCustomerSource(t)
		defer mockPool.Close()
		ids := []string{uuid.NewString()}

		mockPool.ExpectQuery(`content_id::text = ANY\(\$2::text\[\]\)`).
			WithArgs("sms", ids).
			WillReturnRows(mockPool.NewRows([]string{"customer_phone"}).AddRow("010-5555-6666"))

		phones, err := src.ListAlreadyContacted(context.Background(), domain.ChannelSMS, ids)
		require.NoError(t, err)
		assert.Equal(t, []domain.NormalizedPhone{"01055556666"}, phones)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgCustomerSource_ExclusionSets(t *testing.T) {
	src, mockPool := setupCustomerSource(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(`SELECT DISTINCT phone FROM survey_responses`).
		WillReturnRows(mockPool.NewRows([]string{"phone"}).AddRow("821012345678"))
	mockPool.ExpectQuery(`SELECT phone FROM channel_friends WHERE channel = \$1`).
		WithArgs("kakao").
		WillReturnRows(mockPool.NewRows([]string{"phone"}).AddRow("1098765432"))
	mockPool.ExpectQuery(`SELECT phone FROM customers WHERE opt_out`).
		WillReturnError(errors.New("connection refused"))

	survey, err := src.ListSurveyRespondents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.NormalizedPhone{"01012345678"}, survey)

	friends, err := src.ListChannelFriends(context.Background(), domain.ChannelKakao)
	require.NoError(t, err)
	assert.Equal(t, []domain.NormalizedPhone{"01098765432"}, friends)

	_, err = src.ListOptedOut(context.Background())
	assert.ErrorContains(t, err, "load opted out")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
