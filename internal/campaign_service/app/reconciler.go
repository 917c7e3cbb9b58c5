package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
	"github.com/masgolf/golang_services/internal/campaign_service/provider"
)

type ReconcilerConfig struct {
	// Groups still pending this long after creation are marked unresolved.
	ResolveTimeout time.Duration
	SweepBatchSize int
}

// DeliverySummary is the aggregate delivery picture of one campaign.
type DeliverySummary struct {
	CampaignID uuid.UUID               `json:"campaign_id"`
	Status     domain.CampaignStatus   `json:"status"`
	Success    int                     `json:"success"`
	Fail       int                     `json:"fail"`
	Pending    int                     `json:"pending"`
	Groups     []*domain.DeliveryGroup `json:"groups"`
	Errors     []string                `json:"errors,omitempty"`
}

// Reconciler maps provider group reports back onto campaigns.
type Reconciler struct {
	campaigns domain.CampaignRepository
	groups    domain.DeliveryGroupRepository
	provider  provider.Provider
	logger    *slog.Logger
	cfg       ReconcilerConfig
	now       func() time.Time
}

func NewReconciler(
	campaigns domain.CampaignRepository,
	groups domain.DeliveryGroupRepository,
	p provider.Provider,
	logger *slog.Logger,
	cfg ReconcilerConfig,
) *Reconciler {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &Reconciler{
		campaigns: campaigns,
		groups:    groups,
		provider:  p,
		logger:    logger.With("component", "status_reconciler"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile applies one provider report. An unknown group id returns
// ErrStatusReconciliationOrphan after logging; callers treat it as non-fatal.
func (r *Reconciler) Reconcile(ctx context.Context, groupID string, status domain.GroupStatus) error {
	return r.apply(ctx, groupID, func(g *domain.DeliveryGroup) {
		g.Success, g.Fail, g.Pending = status.Success, status.Fail, status.Pending
		if status.Final {
			g.State = domain.GroupResolved
		}
	})
}

func (r *Reconciler) apply(ctx context.Context, groupID string, mutate func(*domain.DeliveryGroup)) error {
	campaignID, err := r.groups.FindCampaignIDByGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			reconciliationCounter.WithLabelValues("orphan").Inc()
			r.logger.WarnContext(ctx, "Status report for unknown group id", "group_id", groupID)
			return fmt.Errorf("group %s: %w", groupID, domain.ErrStatusReconciliationOrphan)
		}
		reconciliationCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("find campaign for group %s: %w", groupID, err)
	}

	groups, err := r.groups.ListByCampaign(ctx, campaignID)
	if err != nil {
		reconciliationCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("list groups of campaign %s: %w", campaignID, err)
	}

	var target *domain.DeliveryGroup
	for _, g := range groups {
		if g.GroupID == groupID {
			target = g
			break
		}
	}
	if target == nil {
		reconciliationCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("group %s missing from campaign %s: %w", groupID, campaignID, domain.ErrNotFound)
	}

	if target.State == domain.GroupResolved {
		r.logger.DebugContext(ctx, "Group already resolved, refreshing counts", "group_id", groupID)
	}
	mutate(target)
	synced := r.now()
	target.LastSyncedAt = &synced
	// Totals and the all-final check are computed by the store after the
	// write, so a sibling group's concurrent report is never lost.
	rollup, err := r.groups.ApplyGroupUpdate(ctx, target)
	if err != nil {
		reconciliationCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("update group %s: %w", groupID, err)
	}

	if rollup.AllFinal {
		to := domain.StatusClosed
		if rollup.Resolved == 0 {
			to = domain.StatusFailed
		}
		err := r.campaigns.UpdateStatus(ctx, campaignID, domain.StatusSent, to, nil)
		switch {
		case err == nil:
			r.logger.InfoContext(ctx, "Campaign delivery settled", "campaign_id", campaignID, "status", to,
				"success", rollup.Success, "fail", rollup.Fail)
		case errors.Is(err, domain.ErrConcurrentModification):
			// Already settled by an earlier report.
		default:
			reconciliationCounter.WithLabelValues("error").Inc()
			return fmt.Errorf("settle campaign %s: %w", campaignID, err)
		}
	}

	reconciliationCounter.WithLabelValues("applied").Inc()
	r.logger.DebugContext(ctx, "Status reconciled", "campaign_id", campaignID, "group_id", groupID,
		"success", rollup.Success, "fail", rollup.Fail, "pending", rollup.Pending)
	return nil
}

// Resync queries the provider for every group of a campaign. Failures for
// single groups are collected and do not stop the others.
func (r *Reconciler) Resync(ctx context.Context, campaignID uuid.UUID) (*DeliverySummary, error) {
	groups, err := r.groups.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list groups of campaign %s: %w", campaignID, err)
	}

	summary := &DeliverySummary{CampaignID: campaignID}
	for _, g := range groups {
		st, err := r.provider.QueryStatus(ctx, g.GroupID)
		if err != nil {
			r.logger.WarnContext(ctx, "Provider status query failed", "group_id", g.GroupID, "error", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", g.GroupID, err))
			continue
		}
		if err := r.Reconcile(ctx, g.GroupID, *st); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", g.GroupID, err))
		}
	}

	c, err := r.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("reload campaign %s: %w", campaignID, err)
	}
	refreshed, err := r.groups.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list groups of campaign %s: %w", campaignID, err)
	}
	summary.Status = c.Status
	summary.Success, summary.Fail, summary.Pending = c.SuccessCount, c.FailCount, c.PendingCount
	summary.Groups = refreshed
	return summary, nil
}

// SweepPending polls the provider for groups still pending and gives up on
// those older than the resolve timeout. It returns how many groups it updated.
func (r *Reconciler) SweepPending(ctx context.Context) (int, error) {
	pending, err := r.groups.ListPending(ctx, r.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending groups: %w", err)
	}

	updated := 0
	for _, g := range pending {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		st, err := r.provider.QueryStatus(ctx, g.GroupID)
		if err == nil && st.Final {
			if rerr := r.Reconcile(ctx, g.GroupID, *st); rerr != nil {
				r.logger.WarnContext(ctx, "Sweep reconcile failed", "group_id", g.GroupID, "error", rerr)
				continue
			}
			updated++
			continue
		}
		if err != nil {
			r.logger.WarnContext(ctx, "Provider status query failed during sweep", "group_id", g.GroupID, "error", err)
		}

		expired := r.cfg.ResolveTimeout > 0 && r.now().Sub(g.CreatedAt) > r.cfg.ResolveTimeout
		switch {
		case expired:
			last := st
			aerr := r.apply(ctx, g.GroupID, func(dg *domain.DeliveryGroup) {
				if last != nil {
					dg.Success, dg.Fail, dg.Pending = last.Success, last.Fail, last.Pending
				}
				dg.State = domain.GroupUnresolved
			})
			if aerr != nil {
				r.logger.WarnContext(ctx, "Failed to mark group unresolved", "group_id", g.GroupID, "error", aerr)
				continue
			}
			reconciliationCounter.WithLabelValues("unresolved").Inc()
			r.logger.WarnContext(ctx, "Group marked unresolved after timeout", "group_id", g.GroupID, "campaign_id", g.CampaignID)
			updated++
		case err == nil:
			if rerr := r.Reconcile(ctx, g.GroupID, *st); rerr == nil {
				updated++
			}
		}
	}
	return updated, nil
}

// RunSweeper sweeps on every tick until ctx is done.
func (r *Reconciler) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Status sweeper stopping")
			return nil
		case <-ticker.C:
			n, err := r.SweepPending(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.ErrorContext(ctx, "Status sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.InfoContext(ctx, "Status sweep updated groups", "count", n)
			}
		}
	}
}
