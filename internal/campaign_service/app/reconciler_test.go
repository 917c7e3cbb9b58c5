package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

func newTestReconciler(cfg ReconcilerConfig) (*Reconciler, *mockCampaignRepo, *mockGroupRepo, *mockProvider) {
	campaigns := new(mockCampaignRepo)
	groups := new(mockGroupRepo)
	p := new(mockProvider)
	r := NewReconciler(campaigns, groups, p, discardLogger(), cfg)
	r.now = func() time.Time { return time.Date(2024, 10, 2, 9, 0, 0, 0, time.UTC) }
	return r, campaigns, groups, p
}

func pendingGroups(campaignID uuid.UUID, created time.Time, ids ...string) []*domain.DeliveryGroup {
	out := make([]*domain.DeliveryGroup, len(ids))
	for i, id := range ids {
		out[i] = &domain.DeliveryGroup{GroupID: id, CampaignID: campaignID, State: domain.GroupPending, CreatedAt: created}
	}
	return out
}

func TestReconciler_Reconcile_TwoGroupsSettleOneCampaign(t *testing.T) {
	r, campaigns, groups, _ := newTestReconciler(ReconcilerConfig{})
	campaignID := uuid.New()
	gs := pendingGroups(campaignID, time.Now(), "G1", "G2")
	gs[1].Pending = 100

	groups.On("FindCampaignIDByGroup", mock.Anything, "G1").Return(campaignID, nil)
	groups.On("FindCampaignIDByGroup", mock.Anything, "G2").Return(campaignID, nil)
	groups.On("ListByCampaign", mock.Anything, campaignID).Return(gs, nil)
	groups.On("ApplyGroupUpdate", mock.Anything, gs[0]).
		Return(&domain.GroupRollup{CampaignID: campaignID, Success: 90, Fail: 10, Pending: 100, Groups: 2, Resolved: 1}, nil).Once()
	groups.On("ApplyGroupUpdate", mock.Anything, gs[1]).
		Return(&domain.GroupRollup{CampaignID: campaignID, Success: 180, Fail: 20, Groups: 2, Resolved: 2, AllFinal: true}, nil).Once()
	campaigns.On("UpdateStatus", mock.Anything, campaignID, domain.StatusSent, domain.StatusClosed, (*time.Time)(nil)).Return(nil).Once()

	require.NoError(t, r.Reconcile(context.Background(), "G1", domain.GroupStatus{Success: 90, Fail: 10, Final: true}))
	campaigns.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, domain.GroupResolved, gs[0].State)
	require.NotNil(t, gs[0].LastSyncedAt)

	require.NoError(t, r.Reconcile(context.Background(), "G2", domain.GroupStatus{Success: 90, Fail: 10, Final: true}))

	groups.AssertExpectations(t)
	campaigns.AssertExpectations(t)
}

// memGroupRepo keeps groups in memory and recomputes totals under one lock,
// the way the Postgres store does inside its transaction. Reads wait on
// readGate so tests can force every reader to see the same snapshot.
type memGroupRepo struct {
	mu       sync.Mutex
	groups   map[string]*domain.DeliveryGroup
	totals   domain.GroupRollup
	readGate *sync.WaitGroup
}

func newMemGroupRepo(gs ...*domain.DeliveryGroup) *memGroupRepo {
	m := &memGroupRepo{groups: make(map[string]*domain.DeliveryGroup)}
	for _, g := range gs {
		m.groups[g.GroupID] = g
	}
	return m
}

func (m *memGroupRepo) FindCampaignIDByGroup(_ context.Context, groupID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	return g.CampaignID, nil
}

func (m *memGroupRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID) ([]*domain.DeliveryGroup, error) {
	m.mu.Lock()
	var out []*domain.DeliveryGroup
	for _, g := range m.groups {
		if g.CampaignID == campaignID {
			cp := *g
			out = append(out, &cp)
		}
	}
	m.mu.Unlock()
	if m.readGate != nil {
		m.readGate.Done()
		m.readGate.Wait()
	}
	return out, nil
}

func (m *memGroupRepo) ApplyGroupUpdate(_ context.Context, g *domain.DeliveryGroup) (*domain.GroupRollup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.groups[g.GroupID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	state := g.State
	if stored.State == domain.GroupResolved && state == domain.GroupPending {
		state = stored.State
	}
	cp := *g
	cp.State = state
	m.groups[g.GroupID] = &cp

	r := domain.GroupRollup{CampaignID: g.CampaignID, AllFinal: true}
	for _, sg := range m.groups {
		if sg.CampaignID != g.CampaignID {
			continue
		}
		r.Success += sg.Success
		r.Fail += sg.Fail
		r.Pending += sg.Pending
		r.Groups++
		if sg.State == domain.GroupResolved {
			r.Resolved++
		}
		if !sg.IsFinal() {
			r.AllFinal = false
		}
	}
	m.totals = r
	return &r, nil
}

func (m *memGroupRepo) ListPending(context.Context, int) ([]*domain.DeliveryGroup, error) {
	return nil, nil
}

func TestReconciler_Reconcile_ConcurrentSiblingReportsSettleOnce(t *testing.T) {
	campaigns := new(mockCampaignRepo)
	campaignID := uuid.New()
	g1 := &domain.DeliveryGroup{GroupID: "G1", CampaignID: campaignID, State: domain.GroupPending, Pending: 50}
	g2 := &domain.DeliveryGroup{GroupID: "G2", CampaignID: campaignID, State: domain.GroupPending, Pending: 100}
	groups := newMemGroupRepo(g1, g2)
	groups.readGate = &sync.WaitGroup{}
	groups.readGate.Add(2)

	r := NewReconciler(campaigns, groups, new(mockProvider), discardLogger(), ReconcilerConfig{})
	campaigns.On("UpdateStatus", mock.Anything, campaignID, domain.StatusSent, domain.StatusClosed, (*time.Time)(nil)).
		Return(nil).Once()

	reports := map[string]domain.GroupStatus{
		"G1": {Success: 50, Final: true},
		"G2": {Success: 100, Final: true},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(reports))
	for id, st := range reports {
		wg.Add(1)
		go func(id string, st domain.GroupStatus) {
			defer wg.Done()
			errs <- r.Reconcile(context.Background(), id, st)
		}(id, st)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 150, groups.totals.Success)
	assert.Zero(t, groups.totals.Pending)
	assert.True(t, groups.totals.AllFinal)
	campaigns.AssertExpectations(t)
	campaigns.AssertNumberOfCalls(t, "UpdateStatus", 1)
}

func TestReconciler_Reconcile_NonFinalReportKeepsCampaignSent(t *testing.T) {
	r, campaigns, groups, _ := newTestReconciler(ReconcilerConfig{})
	campaignID := uuid.New()
	gs := pendingGroups(campaignID, time.Now(), "G1")

	groups.On("FindCampaignIDByGroup", mock.Anything, "G1").Return(campaignID, nil)
	groups.On("ListByCampaign", mock.Anything, campaignID).Return(gs, nil)
	groups.On("ApplyGroupUpdate", mock.Anything, gs[0]).
		Return(&domain.GroupRollup{CampaignID: campaignID, Success: 5, Pending: 5, Groups: 1}, nil)

	require.NoError(t, r.Reconcile(context.Background(), "G1", domain.GroupStatus{Success: 5, Pending: 5}))
	assert.Equal(t, domain.GroupPending, gs[0].State)
	campaigns.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconciler_Reconcile_AlreadySettledIsNotAnError(t *testing.T) {
	r, campaigns, groups, _ := newTestReconciler(ReconcilerConfig{})
	campaignID := uuid.New()
	gs := pendingGroups(campaignID, time.Now(), "G1")

	groups.On("FindCampaignIDByGroup", mock.Anything, "G1").Return(campaignID, nil)
	groups.On("ListByCampaign", mock.Anything, campaignID).Return(gs, nil)
	groups.On("ApplyGroupUpdate", mock.Anything, gs[0]).
		Return(&domain.GroupRollup{CampaignID: campaignID, Success: 1, Groups: 1, Resolved: 1, AllFinal: true}, nil)
	campaigns.On("UpdateStatus", mock.Anything, campaignID, domain.StatusSent, domain.StatusClosed, mock.Anything).
		Return(domain.ErrConcurrentModification)

	assert.NoError(t, r.Reconcile(context.Background(), "G1", domain.GroupStatus{Success: 1, Final: true}))
}

func TestReconciler_Reconcile_OrphanGroup(t *testing.T) {
	r, campaigns, groups, _ := newTestReconciler(ReconcilerConfig{})
	groups.On("FindCampaignIDByGroup", mock.Anything, "G-unknown").Return(uuid.Nil, domain.ErrNotFound)

	err := r.Reconcile(context.Background(), "G-unknown", domain.GroupStatus{Success: 1, Final: true})
	assert.ErrorIs(t, err, domain.ErrStatusReconciliationOrphan)
	groups.AssertNotCalled(t, "ApplyGroupUpdate", mock.Anything, mock.Anything)
	campaigns.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconciler_SweepPending(t *testing.T) {
	t.Run("expired group is marked unresolved and campaign fails", func(t *testing.T) {
		r, campaigns, groups, p := newTestReconciler(ReconcilerConfig{ResolveTimeout: 24 * time.Hour})
		campaignID := uuid.New()
		created := r.now().Add(-25 * time.Hour)
		gs := pendingGroups(campaignID, created, "G1")

		groups.On("ListPending", mock.Anything, 100).Return(gs, nil)
		p.On("QueryStatus", mock.Anything, "G1").Return(nil, errors.New("timeout"))
		groups.On("FindCampaignIDByGroup", mock.Anything, "G1").Return(campaignID, nil)
		groups.On("ListByCampaign", mock.Anything, campaignID).Return(gs, nil)
		groups.On("ApplyGroupUpdate", mock.Anything, gs[0]).
			Return(&domain.GroupRollup{CampaignID: campaignID, Groups: 1, AllFinal: true}, nil)
		campaigns.On("UpdateStatus", mock.Anything, campaignID, domain.StatusSent, domain.StatusFailed, mock.Anything).Return(nil).Once()

		n, err := r.SweepPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, domain.GroupUnresolved, gs[0].State)
		campaigns.AssertExpectations(t)
	})

	t.Run("young group with progress is refreshed", func(t *testing.T) {
		r, campaigns, groups, p := newTestReconciler(ReconcilerConfig{ResolveTimeout: 24 * time.Hour})
		campaignID := uuid.New()
		gs := pendingGroups(campaignID, r.now().Add(-time.Hour), "G1")

		groups.On("ListPending", mock.Anything, 100).Return(gs, nil)
		p.On("QueryStatus", mock.Anything, "G1").Return(&domain.GroupStatus{GroupID: "G1", Success: 3, Pending: 7}, nil)
		groups.On("FindCampaignIDByGroup", mock.Anything, "G1").Return(campaignID, nil)
		groups.On("ListByCampaign", mock.Anything, campaignID).Return(gs, nil)
		groups.On("ApplyGroupUpdate", mock.Anything, gs[0]).
			Return(&domain.GroupRollup{CampaignID: campaignID, Success: 3, Pending: 7, Groups: 1}, nil)

		n, err := r.SweepPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, domain.GroupPending, gs[0].State)
		campaigns.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("young group with failing provider is left alone", func(t *testing.T) {
		r, _, groups, p := newTestReconciler(ReconcilerConfig{ResolveTimeout: 24 * time.Hour})
		gs := pendingGroups(uuid.New(), r.now().Add(-time.Hour), "G1")

		groups.On("ListPending", mock.Anything, 100).Return(gs, nil)
		p.On("QueryStatus", mock.Anything, "G1").Return(nil, errors.New("503"))

		n, err := r.SweepPending(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		groups.AssertNotCalled(t, "ApplyGroupUpdate", mock.Anything, mock.Anything)
	})
}

func TestReconciler_Resync(t *testing.T) {
	r, campaigns, groups, p := newTestReconciler(ReconcilerConfig{})
	campaignID := uuid.New()
	gs := pendingGroups(campaignID, time.Now(), "G1", "G2")

	groups.On("ListByCampaign", mock.Anything, campaignID).Return(gs, nil)
	p.On("QueryStatus", mock.Anything, "G1").Return(&domain.GroupStatus{GroupID: "G1", Success: 4, Final: true}, nil)
	p.On("QueryStatus", mock.Anything, "G2").Return(nil, errors.New("group lookup failed"))
	groups.On("FindCampaignIDByGroup", mock.Anything, "G1").Return(campaignID, nil)
	groups.On("ApplyGroupUpdate", mock.Anything, gs[0]).
		Return(&domain.GroupRollup{CampaignID: campaignID, Success: 4, Groups: 2, Resolved: 1}, nil)

	c := &domain.Campaign{ID: campaignID, Status: domain.StatusSent, SuccessCount: 4}
	campaigns.On("GetByID", mock.Anything, campaignID).Return(c, nil)

	summary, err := r.Resync(context.Background(), campaignID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, summary.Status)
	assert.Equal(t, 4, summary.Success)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "G2")
	assert.Len(t, summary.Groups, 2)
}
