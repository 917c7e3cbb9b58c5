package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
	"github.com/masgolf/golang_services/internal/campaign_service/provider"
	"github.com/masgolf/golang_services/internal/platform/lock"
)

// DispatchedSubject carries a DispatchedEvent for every committed batch.
const DispatchedSubject = "campaign.dispatched"

// EventPublisher is satisfied by the NATS client.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Locker guards a campaign against concurrent dispatch.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

type DispatchConfig struct {
	BatchLimit    int
	Concurrency   int
	MaxRetries    int
	RetryBackoff  time.Duration
	CommitRetries int
	LockTTL       time.Duration
}

// DispatchResult describes a committed (or previously committed) batch.
type DispatchResult struct {
	CampaignID         uuid.UUID                  `json:"campaign_id"`
	GroupIDs           []string                   `json:"group_ids"`
	AcceptedCount      int                        `json:"accepted_count"`
	RejectedRecipients []domain.RejectedRecipient `json:"rejected_recipients,omitempty"`
	AlreadySent        bool                       `json:"already_sent,omitempty"`
	Recovered          bool                       `json:"recovered,omitempty"`
	// Unaccounted counts recipients missing from the groups found for an
	// earlier attempt. Their delivery is unknown.
	Unaccounted int `json:"unaccounted,omitempty"`
}

// DispatchOutcome is one entry of DispatchMany.
type DispatchOutcome struct {
	CampaignID uuid.UUID
	Result     *DispatchResult
	Err        error
}

type DispatchedEvent struct {
	CampaignID    uuid.UUID `json:"campaign_id"`
	GroupIDs      []string  `json:"group_ids"`
	AcceptedCount int       `json:"accepted_count"`
	RejectedCount int       `json:"rejected_count"`
	SentAt        time.Time `json:"sent_at"`
}

// Dispatcher submits campaign batches to the provider. The status write to
// sent is the commit point; it is retried as a write, never as a resend.
type Dispatcher struct {
	campaigns domain.CampaignRepository
	logs      domain.MessageLogRepository
	provider  provider.Provider
	locker    Locker
	events    EventPublisher
	logger    *slog.Logger
	cfg       DispatchConfig
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher wires a dispatcher. locker and events may be nil.
func NewDispatcher(
	campaigns domain.CampaignRepository,
	logs domain.MessageLogRepository,
	p provider.Provider,
	locker Locker,
	events EventPublisher,
	logger *slog.Logger,
	cfg DispatchConfig,
) *Dispatcher {
	if locker == nil {
		locker = noopLocker{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Dispatcher{
		campaigns: campaigns,
		logs:      logs,
		provider:  p,
		locker:    locker,
		events:    events,
		logger:    logger.With("component", "dispatcher", "provider", p.GetName()),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	return d.cfg.RetryBackoff * time.Duration(1<<uint(attempt-1))
}

// Dispatch sends one campaign. Calling it again for a dispatched campaign
// returns the recorded group ids without contacting the provider.
func (d *Dispatcher) Dispatch(ctx context.Context, id uuid.UUID) (*DispatchResult, error) {
	timer := prometheus.NewTimer(dispatchDurationHist.WithLabelValues(d.provider.GetName()))
	defer timer.ObserveDuration()

	c, err := d.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", id, err)
	}
	if c.Status.IsDispatched() {
		dispatchOutcomeCounter.WithLabelValues("already_sent").Inc()
		return alreadySent(c), nil
	}

	release, err := d.locker.Acquire(ctx, "campaign:dispatch:"+id.String(), d.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			dispatchOutcomeCounter.WithLabelValues("locked").Inc()
			return nil, fmt.Errorf("campaign %s: %w", id, domain.ErrDispatchInProgress)
		}
		return nil, fmt.Errorf("lock campaign %s: %w", id, err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			d.logger.WarnContext(ctx, "Failed to release dispatch lock", "campaign_id", id, "error", rerr)
		}
	}()

	// Reload under the lock; the previous holder may have finished.
	c, err = d.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", id, err)
	}
	if c.Status.IsDispatched() {
		dispatchOutcomeCounter.WithLabelValues("already_sent").Inc()
		return alreadySent(c), nil
	}
	if !domain.CanTransition(c.Status, domain.StatusSent) {
		dispatchOutcomeCounter.WithLabelValues("guard_rejected").Inc()
		return nil, &domain.GuardError{
			Code:    domain.GuardIllegalTransition,
			Reason:  fmt.Sprintf("cannot dispatch campaign in %s", c.Status),
			Details: map[string]any{"campaign_id": id, "status": c.Status},
		}
	}
	if err := CheckDispatchable(c, d.cfg.BatchLimit); err != nil {
		dispatchOutcomeCounter.WithLabelValues("guard_rejected").Inc()
		return nil, err
	}

	var key string
	if c.DispatchKey != nil {
		key = *c.DispatchKey
		groups, err := d.provider.FindGroups(ctx, key)
		if err != nil {
			err = fmt.Errorf("look up earlier attempt %s: %w", key, err)
			d.recordFailure(ctx, id, err)
			dispatchOutcomeCounter.WithLabelValues("provider_failed").Inc()
			d.logger.ErrorContext(ctx, "Cannot tell whether earlier attempt reached the provider, campaign stays unsent",
				"campaign_id", id, "dispatch_key", key, "error", err)
			return nil, &domain.ProviderCallError{Provider: d.provider.GetName(), Attempts: 1, Err: err}
		}
		if len(groups) > 0 {
			d.logger.WarnContext(ctx, "Earlier attempt reached the provider, recording it instead of resending",
				"campaign_id", id, "dispatch_key", key, "group_ids", groups)
			return d.commit(ctx, c, d.recoveredResult(ctx, c, groups), true)
		}
	} else {
		key = uuid.NewString()
		if err := d.campaigns.MarkDispatching(ctx, id, c.Status, key); err != nil {
			return nil, fmt.Errorf("mark campaign %s dispatching: %w", id, err)
		}
		c.DispatchKey = &key
	}

	res, attempts, err := d.submit(ctx, c, key)
	if err != nil {
		d.recordFailure(ctx, id, err)
		dispatchOutcomeCounter.WithLabelValues("provider_failed").Inc()
		d.logger.ErrorContext(ctx, "Provider call failed, campaign stays unsent",
			"campaign_id", id, "status", c.Status, "attempts", attempts, "error", err)
		return nil, &domain.ProviderCallError{Provider: d.provider.GetName(), Attempts: attempts, Err: err}
	}
	return d.commit(ctx, c, res, false)
}

// recordFailure counts a failed attempt so the scheduler can give up on it.
func (d *Dispatcher) recordFailure(ctx context.Context, id uuid.UUID, cause error) {
	if _, err := d.campaigns.RecordDispatchFailure(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		d.logger.ErrorContext(ctx, "Failed to record dispatch failure", "campaign_id", id, "error", err)
	}
}

func (d *Dispatcher) buildRequest(c *domain.Campaign, key string) provider.SendRequest {
	vars := c.RenderVars()
	req := provider.SendRequest{
		DispatchKey: key,
		Kind:        c.Kind,
		Messages:    make([]provider.OutboundMessage, 0, len(c.Recipients)),
	}
	if c.Kind.HasMedia() && c.ImageRef != nil {
		req.ImageID = *c.ImageRef
	}
	for _, r := range c.Recipients {
		req.Messages = append(req.Messages, provider.OutboundMessage{
			To:   r.Address(),
			Text: RenderMessage(c.Template, r, vars),
		})
	}
	return req
}

// submit calls the provider with bounded retries. Before every retry the
// provider is asked whether the failed call got through after all; if that
// lookup fails there is no safe way to resend, so submit gives up.
func (d *Dispatcher) submit(ctx context.Context, c *domain.Campaign, key string) (*provider.SendResult, int, error) {
	req := d.buildRequest(c, key)

	for attempt := 1; ; attempt++ {
		res, err := d.provider.Send(ctx, req)
		if res != nil && len(res.GroupIDs) > 0 {
			if err != nil {
				d.logger.WarnContext(ctx, "Provider accepted part of the batch",
					"campaign_id", c.ID, "group_ids", res.GroupIDs, "rejected", len(res.Rejected), "error", err)
			}
			return res, attempt, nil
		}
		if err == nil {
			err = domain.ErrNoGroupIDs
		}
		d.logger.WarnContext(ctx, "Provider send attempt failed", "campaign_id", c.ID, "attempt", attempt, "error", err)

		if attempt > d.cfg.MaxRetries {
			return nil, attempt, err
		}
		if serr := d.sleep(ctx, d.backoff(attempt)); serr != nil {
			return nil, attempt, err
		}
		groups, ferr := d.provider.FindGroups(ctx, key)
		if ferr != nil {
			return nil, attempt, fmt.Errorf("%w; lookup before retry failed: %v", err, ferr)
		}
		if len(groups) > 0 {
			return d.recoveredResult(ctx, c, groups), attempt, nil
		}
	}
}

// recoveredResult rebuilds a send result for groups found at the provider.
// Per-recipient rejections are not recoverable; counts come from the groups.
func (d *Dispatcher) recoveredResult(ctx context.Context, c *domain.Campaign, groups []string) *provider.SendResult {
	res := &provider.SendResult{GroupIDs: groups}
	known := true
	for _, g := range groups {
		st, err := d.provider.QueryStatus(ctx, g)
		if err != nil {
			known = false
			break
		}
		res.AcceptedCount += st.Success + st.Fail + st.Pending
	}
	if !known {
		res.AcceptedCount = len(c.Recipients)
		return res
	}
	if missing := unaccounted(c, res); missing > 0 {
		dispatchOutcomeCounter.WithLabelValues("recovered_short").Inc()
		d.logger.WarnContext(ctx, "Recovered groups cover fewer messages than the batch",
			"campaign_id", c.ID, "group_ids", groups, "recipients", len(c.Recipients),
			"accepted", res.AcceptedCount, "unaccounted", missing)
	}
	return res
}

func unaccounted(c *domain.Campaign, res *provider.SendResult) int {
	if n := len(c.Recipients) - res.AcceptedCount - len(res.Rejected); n > 0 {
		return n
	}
	return 0
}

func (d *Dispatcher) commit(ctx context.Context, c *domain.Campaign, res *provider.SendResult, recovered bool) (*DispatchResult, error) {
	result := &DispatchResult{
		CampaignID:         c.ID,
		GroupIDs:           res.GroupIDs,
		AcceptedCount:      res.AcceptedCount,
		RejectedRecipients: res.Rejected,
		Recovered:          recovered,
	}
	if recovered {
		result.Unaccounted = unaccounted(c, res)
	}
	commit := domain.DispatchCommit{
		GroupIDs:      res.GroupIDs,
		AcceptedCount: res.AcceptedCount,
		Rejected:      res.Rejected,
		SentAt:        d.now(),
	}

	// The provider already has the batch; cancellation of the caller must not
	// stop the status write.
	writeCtx := context.WithoutCancel(ctx)
	from := c.Status
	var err error
	for attempt := 0; attempt <= d.cfg.CommitRetries; attempt++ {
		if attempt > 0 {
			_ = d.sleep(writeCtx, d.backoff(attempt))
		}
		err = d.campaigns.CommitDispatch(writeCtx, c.ID, from, commit)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrConcurrentModification) {
			cur, gerr := d.campaigns.GetByID(writeCtx, c.ID)
			if gerr == nil {
				if cur.Status.IsDispatched() {
					return alreadySent(cur), nil
				}
				from = cur.Status
			}
		}
		d.logger.WarnContext(ctx, "Status write after provider acceptance failed",
			"campaign_id", c.ID, "group_ids", res.GroupIDs, "attempt", attempt+1, "error", err)
	}
	if err != nil {
		dispatchOutcomeCounter.WithLabelValues("commit_pending").Inc()
		d.logger.ErrorContext(ctx, "Batch accepted but not recorded; next dispatch will recover it",
			"campaign_id", c.ID, "dispatch_key", c.DispatchKey, "group_ids", res.GroupIDs, "error", err)
		return result, fmt.Errorf("campaign %s: %w: %v", c.ID, domain.ErrCommitPending, err)
	}

	d.recordContacts(writeCtx, c, res.Rejected, commit.SentAt)
	d.publish(writeCtx, DispatchedEvent{
		CampaignID:    c.ID,
		GroupIDs:      res.GroupIDs,
		AcceptedCount: res.AcceptedCount,
		RejectedCount: len(res.Rejected),
		SentAt:        commit.SentAt,
	})

	outcome := "sent"
	if recovered {
		outcome = "recovered"
	}
	dispatchOutcomeCounter.WithLabelValues(outcome).Inc()
	d.logger.InfoContext(ctx, "Campaign dispatched",
		"campaign_id", c.ID, "group_ids", res.GroupIDs, "accepted", res.AcceptedCount,
		"rejected", len(res.Rejected), "recovered", recovered, "unaccounted", result.Unaccounted)
	return result, nil
}

// recordContacts logs accepted recipients so later resolutions can exclude them.
func (d *Dispatcher) recordContacts(ctx context.Context, c *domain.Campaign, rejected []domain.RejectedRecipient, sentAt time.Time) {
	if d.logs == nil {
		return
	}
	refused := make(map[string]struct{}, len(rejected))
	for _, r := range rejected {
		refused[r.Phone] = struct{}{}
	}
	phones := make([]domain.NormalizedPhone, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		p, ok := r.Normalized()
		if !ok {
			continue
		}
		if _, no := refused[string(p)]; no {
			continue
		}
		phones = append(phones, p)
	}
	if len(phones) == 0 {
		return
	}
	if err := d.logs.RecordSent(ctx, c.ID, c.Channel, phones, sentAt); err != nil {
		d.logger.ErrorContext(ctx, "Failed to record message logs", "campaign_id", c.ID, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev DispatchedEvent) {
	if d.events == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to marshal dispatch event", "campaign_id", ev.CampaignID, "error", err)
		return
	}
	if err := d.events.Publish(ctx, DispatchedSubject, data); err != nil {
		d.logger.WarnContext(ctx, "Failed to publish dispatch event", "campaign_id", ev.CampaignID, "error", err)
	}
}

// DispatchMany dispatches campaigns through a pool of at most
// cfg.Concurrency workers. One failure does not stop the others; outcomes
// are returned in input order.
func (d *Dispatcher) DispatchMany(ctx context.Context, ids []uuid.UUID) []DispatchOutcome {
	outcomes := make([]DispatchOutcome, len(ids))
	var eg errgroup.Group
	eg.SetLimit(d.cfg.Concurrency)

	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			res, err := d.Dispatch(ctx, id)
			outcomes[i] = DispatchOutcome{CampaignID: id, Result: res, Err: err}
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

func alreadySent(c *domain.Campaign) *DispatchResult {
	return &DispatchResult{
		CampaignID:         c.ID,
		GroupIDs:           c.GroupIDs,
		AcceptedCount:      c.AcceptedCount,
		RejectedRecipients: c.RejectedRecipients,
		AlreadySent:        true,
	}
}
