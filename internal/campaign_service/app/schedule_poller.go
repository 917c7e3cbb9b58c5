package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// PollerConfig holds configuration for the SchedulePoller.
type PollerConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxAttempts     int
}

// Dispatching is the part of the Dispatcher the poller needs.
type Dispatching interface {
	DispatchMany(ctx context.Context, ids []uuid.UUID) []DispatchOutcome
}

// SchedulePoller hands due scheduled campaigns to the dispatcher. It owns the
// clock; the dispatcher has none.
type SchedulePoller struct {
	campaigns  domain.CampaignRepository
	dispatcher Dispatching
	logger     *slog.Logger
	config     PollerConfig
	now        func() time.Time
}

func NewSchedulePoller(campaigns domain.CampaignRepository, dispatcher Dispatching, logger *slog.Logger, cfg PollerConfig) *SchedulePoller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &SchedulePoller{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		logger:     logger.With("component", "schedule_poller"),
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PollAndDispatch dispatches one batch of due campaigns and returns how many it attempted.
func (p *SchedulePoller) PollAndDispatch(ctx context.Context) (int, error) {
	now := p.now()
	due, err := p.campaigns.ListDueScheduled(ctx, now, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}
	if len(due) == 0 {
		p.logger.DebugContext(ctx, "No due campaigns in this poll cycle")
		return 0, nil
	}

	ids := make([]uuid.UUID, len(due))
	for i, c := range due {
		ids[i] = c.ID
	}
	p.logger.InfoContext(ctx, "Dispatching due campaigns", "count", len(ids))

	for _, o := range p.dispatcher.DispatchMany(ctx, ids) {
		if o.Err == nil {
			schedulerPollCounter.WithLabelValues("success").Inc()
			continue
		}
		var callErr *domain.ProviderCallError
		if !errors.As(o.Err, &callErr) {
			schedulerPollCounter.WithLabelValues("retry").Inc()
			p.logger.WarnContext(ctx, "Scheduled dispatch did not complete", "campaign_id", o.CampaignID, "error", o.Err)
			continue
		}
		p.handleProviderFailure(ctx, o.CampaignID, o.Err)
	}
	return len(ids), nil
}

// handleProviderFailure fails the campaign once it used up its attempts.
func (p *SchedulePoller) handleProviderFailure(ctx context.Context, id uuid.UUID, cause error) {
	c, err := p.campaigns.GetByID(ctx, id)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to reload campaign after provider failure", "campaign_id", id, "error", err)
		return
	}
	if p.config.MaxAttempts <= 0 || c.DispatchAttempts < p.config.MaxAttempts {
		schedulerPollCounter.WithLabelValues("retry").Inc()
		p.logger.WarnContext(ctx, "Scheduled dispatch failed, will retry next cycle",
			"campaign_id", id, "attempts", c.DispatchAttempts, "error", cause)
		return
	}
	if err := p.campaigns.UpdateStatus(ctx, id, domain.StatusScheduled, domain.StatusFailed, nil); err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark campaign failed", "campaign_id", id, "error", err)
		return
	}
	schedulerPollCounter.WithLabelValues("failed").Inc()
	p.logger.ErrorContext(ctx, "Scheduled campaign failed permanently",
		"campaign_id", id, "attempts", c.DispatchAttempts, "error", cause)
}

// Run polls on every tick until ctx is done.
func (p *SchedulePoller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Schedule poller started", "interval", p.config.PollingInterval)
	ticker := time.NewTicker(p.config.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Schedule poller stopping")
			return nil
		case <-ticker.C:
			if _, err := p.PollAndDispatch(ctx); err != nil {
				p.logger.ErrorContext(ctx, "Poll cycle failed", "error", err)
			}
		}
	}
}
