package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

type slowSource struct {
	name string
}

func (s slowSource) Name() string { return s.name }

func (s slowSource) Fetch(ctx context.Context) ([]domain.NormalizedPhone, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExclusionGatherer_Gather(t *testing.T) {
	customers := new(mockCustomerSource)
	customers.On("ListOptedOut", mock.Anything).Return([]domain.NormalizedPhone{"01011112222"}, nil)
	customers.On("ListAlreadyContacted", mock.Anything, domain.ChannelSMS, []string{"c-1"}).
		Return([]domain.NormalizedPhone{"01033334444", "01055556666"}, nil)
	customers.On("ListChannelFriends", mock.Anything, domain.ChannelKakao).Return([]domain.NormalizedPhone{}, nil)

	g := NewExclusionGatherer(discardLogger(), time.Second)
	sets, err := g.Gather(context.Background(), []ExclusionSource{
		OptOutSource(customers),
		AlreadyContactedSource(customers, domain.ChannelSMS, []string{"c-1"}),
		ChannelFriendSource(customers, domain.ChannelKakao),
	})
	require.NoError(t, err)
	require.Len(t, sets, 3)

	assert.Equal(t, "opted_out", sets[0].Name)
	assert.True(t, sets[0].Phones.Has("01011112222"))
	assert.Equal(t, "already_contacted:sms:c-1", sets[1].Name)
	assert.Equal(t, 2, sets[1].Phones.Len())
	assert.Equal(t, "channel_friends:kakao", sets[2].Name)
	customers.AssertExpectations(t)
}

func TestExclusionGatherer_FailsLoudNamingSource(t *testing.T) {
	customers := new(mockCustomerSource)
	customers.On("ListSurveyRespondents", mock.Anything).Return(nil, errors.New("connection refused"))

	g := NewExclusionGatherer(discardLogger(), 5*time.Second)
	sets, err := g.Gather(context.Background(), []ExclusionSource{
		SurveyRespondentSource(customers),
		slowSource{name: "slow"},
	})

	require.Error(t, err)
	assert.Nil(t, sets)
	var unavailable *domain.ExclusionSourceUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "survey_respondents", unavailable.Source)
}

func TestExclusionGatherer_PerSourceTimeout(t *testing.T) {
	g := NewExclusionGatherer(discardLogger(), 20*time.Millisecond)
	_, err := g.Gather(context.Background(), []ExclusionSource{slowSource{name: "channel_friends:kakao"}})

	var unavailable *domain.ExclusionSourceUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "channel_friends:kakao", unavailable.Source)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
