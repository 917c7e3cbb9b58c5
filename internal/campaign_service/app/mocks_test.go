package app

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
	"github.com/masgolf/golang_services/internal/campaign_service/provider"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- campaign repository ---

type mockCampaignRepo struct{ mock.Mock }

var _ domain.CampaignRepository = (*mockCampaignRepo)(nil)

func (m *mockCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCampaignRepo) CreateMany(ctx context.Context, cs []*domain.Campaign) error {
	return m.Called(ctx, cs).Error(0)
}

func (m *mockCampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*domain.Campaign)
	return c, args.Error(1)
}

func (m *mockCampaignRepo) List(ctx context.Context, f domain.CampaignFilter) ([]*domain.Campaign, error) {
	args := m.Called(ctx, f)
	cs, _ := args.Get(0).([]*domain.Campaign)
	return cs, args.Error(1)
}

func (m *mockCampaignRepo) UpdateDraft(ctx context.Context, c *domain.Campaign) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCampaignRepo) UpdateNote(ctx context.Context, id uuid.UUID, note string) error {
	return m.Called(ctx, id, note).Error(0)
}

func (m *mockCampaignRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.CampaignStatus, at *time.Time) error {
	return m.Called(ctx, id, from, to, at).Error(0)
}

func (m *mockCampaignRepo) SplitDraft(ctx context.Context, original *domain.Campaign, created []*domain.Campaign) error {
	return m.Called(ctx, original, created).Error(0)
}

func (m *mockCampaignRepo) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCampaignRepo) MarkDispatching(ctx context.Context, id uuid.UUID, from domain.CampaignStatus, key string) error {
	return m.Called(ctx, id, from, key).Error(0)
}

func (m *mockCampaignRepo) RecordDispatchFailure(ctx context.Context, id uuid.UUID, reason string) (int, error) {
	args := m.Called(ctx, id, reason)
	return args.Int(0), args.Error(1)
}

func (m *mockCampaignRepo) CommitDispatch(ctx context.Context, id uuid.UUID, from domain.CampaignStatus, commit domain.DispatchCommit) error {
	return m.Called(ctx, id, from, commit).Error(0)
}

func (m *mockCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	args := m.Called(ctx, now, limit)
	cs, _ := args.Get(0).([]*domain.Campaign)
	return cs, args.Error(1)
}

// --- delivery groups ---

type mockGroupRepo struct{ mock.Mock }

var _ domain.DeliveryGroupRepository = (*mockGroupRepo)(nil)

func (m *mockGroupRepo) FindCampaignIDByGroup(ctx context.Context, groupID string) (uuid.UUID, error) {
	args := m.Called(ctx, groupID)
	id, _ := args.Get(0).(uuid.UUID)
	return id, args.Error(1)
}

func (m *mockGroupRepo) ListByCampaign(ctx context.Context, id uuid.UUID) ([]*domain.DeliveryGroup, error) {
	args := m.Called(ctx, id)
	gs, _ := args.Get(0).([]*domain.DeliveryGroup)
	return gs, args.Error(1)
}

func (m *mockGroupRepo) ApplyGroupUpdate(ctx context.Context, g *domain.DeliveryGroup) (*domain.GroupRollup, error) {
	args := m.Called(ctx, g)
	r, _ := args.Get(0).(*domain.GroupRollup)
	return r, args.Error(1)
}

func (m *mockGroupRepo) ListPending(ctx context.Context, limit int) ([]*domain.DeliveryGroup, error) {
	args := m.Called(ctx, limit)
	gs, _ := args.Get(0).([]*domain.DeliveryGroup)
	return gs, args.Error(1)
}


// --- customer source ---

type mockCustomerSource struct{ mock.Mock }

var _ domain.CustomerSource = (*mockCustomerSource)(nil)

func (m *mockCustomerSource) ListCandidates(ctx context.Context, f domain.CandidateFilter) ([]domain.Recipient, error) {
	args := m.Called(ctx, f)
	rs, _ := args.Get(0).([]domain.Recipient)
	return rs, args.Error(1)
}

func (m *mockCustomerSource) phones(args mock.Arguments) ([]domain.NormalizedPhone, error) {
	ps, _ := args.Get(0).([]domain.NormalizedPhone)
	return ps, args.Error(1)
}

func (m *mockCustomerSource) ListAlreadyContacted(ctx context.Context, ch domain.Channel, ids []string) ([]domain.NormalizedPhone, error) {
	return m.phones(m.Called(ctx, ch, ids))
}

func (m *mockCustomerSource) ListSurveyRespondents(ctx context.Context) ([]domain.NormalizedPhone, error) {
	return m.phones(m.Called(ctx))
}

func (m *mockCustomerSource) ListChannelFriends(ctx context.Context, ch domain.Channel) ([]domain.NormalizedPhone, error) {
	return m.phones(m.Called(ctx, ch))
}

func (m *mockCustomerSource) ListOptedOut(ctx context.Context) ([]domain.NormalizedPhone, error) {
	return m.phones(m.Called(ctx))
}

// --- message logs ---

type mockMessageLogs struct{ mock.Mock }

func (m *mockMessageLogs) RecordSent(ctx context.Context, id uuid.UUID, ch domain.Channel, phones []domain.NormalizedPhone, at time.Time) error {
	return m.Called(ctx, id, ch, phones, at).Error(0)
}

// --- provider ---

type mockProvider struct{ mock.Mock }

var _ provider.Provider = (*mockProvider)(nil)

func (m *mockProvider) Send(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*provider.SendResult)
	return r, args.Error(1)
}

func (m *mockProvider) QueryStatus(ctx context.Context, groupID string) (*domain.GroupStatus, error) {
	args := m.Called(ctx, groupID)
	s, _ := args.Get(0).(*domain.GroupStatus)
	return s, args.Error(1)
}

func (m *mockProvider) FindGroups(ctx context.Context, key string) ([]string, error) {
	args := m.Called(ctx, key)
	gs, _ := args.Get(0).([]string)
	return gs, args.Error(1)
}

func (m *mockProvider) GetName() string { return "mock" }

// --- locker & publisher ---

type mockLocker struct{ mock.Mock }

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	args := m.Called(ctx, key, ttl)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return func(context.Context) error { return nil }, nil
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return m.Called(ctx, subject, data).Error(0)
}

// --- fixtures ---

func makeRecipients(phones ...string) []domain.Recipient {
	out := make([]domain.Recipient, len(phones))
	for i, p := range phones {
		out[i] = domain.Recipient{Phone: p, Name: "고객" + string(rune('A'+i%26))}
	}
	return out
}

func numberedRecipients(n int) []domain.Recipient {
	out := make([]domain.Recipient, n)
	for i := range out {
		out[i] = domain.Recipient{Phone: "010" + pad8(i)}
	}
	return out
}

func pad8(i int) string {
	s := []byte("00000000")
	for p := 7; p >= 0 && i > 0; p-- {
		s[p] = byte('0' + i%10)
		i /= 10
	}
	return string(s)
}
