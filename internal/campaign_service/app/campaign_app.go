package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// Application exposes the operator-facing lifecycle of campaign batches.
type Application struct {
	campaigns  domain.CampaignRepository
	customers  domain.CustomerSource
	gatherer   *ExclusionGatherer
	logger     *slog.Logger
	batchLimit int
	now        func() time.Time
}

func NewApplication(
	campaigns domain.CampaignRepository,
	customers domain.CustomerSource,
	gatherer *ExclusionGatherer,
	logger *slog.Logger,
	batchLimit int,
) *Application {
	return &Application{
		campaigns:  campaigns,
		customers:  customers,
		gatherer:   gatherer,
		logger:     logger.With("component", "campaign_app"),
		batchLimit: batchLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// BatchLimit is the provider recipient cap every batch obeys.
func (a *Application) BatchLimit() int { return a.batchLimit }

// AlreadyContactedSpec excludes people reached on Channel by the listed campaigns.
type AlreadyContactedSpec struct {
	Channel     domain.Channel `json:"channel"`
	CampaignIDs []string       `json:"campaign_ids,omitempty"`
}

// ExclusionSpec selects which exclusion sources apply. Opt-outs always apply.
type ExclusionSpec struct {
	AlreadyContacted  []AlreadyContactedSpec `json:"already_contacted,omitempty"`
	SurveyRespondents bool                   `json:"survey_respondents,omitempty"`
	ChannelFriends    []domain.Channel       `json:"channel_friends,omitempty"`
}

// CreateDraftsRequest plans a campaign over a recipient universe. Recipients,
// when given, replace the customer-store query.
type CreateDraftsRequest struct {
	Channel    domain.Channel
	Kind       domain.MessageKind
	Template   string
	Honorific  string
	Vars       map[string]string
	ImageRef   *string
	Note       string
	BatchSize  int
	Filter     domain.CandidateFilter
	Recipients []domain.Recipient
	Exclusions ExclusionSpec
}

// DraftPlan is the outcome of CreateDrafts.
type DraftPlan struct {
	Campaigns    []*domain.Campaign `json:"campaigns"`
	Stats        ResolutionStats    `json:"stats"`
	Warnings     []string           `json:"warnings,omitempty"`
	LintWarnings []LintWarning      `json:"lint_warnings,omitempty"`
}

func (a *Application) exclusionSources(spec ExclusionSpec) []ExclusionSource {
	sources := []ExclusionSource{OptOutSource(a.customers)}
	for _, ac := range spec.AlreadyContacted {
		sources = append(sources, AlreadyContactedSource(a.customers, ac.Channel, ac.CampaignIDs))
	}
	if spec.SurveyRespondents {
		sources = append(sources, SurveyRespondentSource(a.customers))
	}
	for _, ch := range spec.ChannelFriends {
		sources = append(sources, ChannelFriendSource(a.customers, ch))
	}
	return sources
}

// CreateDrafts resolves the recipient universe against the exclusion sources,
// splits the remainder into batches and stores one draft per batch.
func (a *Application) CreateDrafts(ctx context.Context, req CreateDraftsRequest) (*DraftPlan, error) {
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = a.batchLimit
	}
	if batchSize > a.batchLimit {
		return nil, &domain.GuardError{
			Code:    domain.GuardBatchLimitExceeded,
			Reason:  fmt.Sprintf("batch size %d exceeds limit of %d", batchSize, a.batchLimit),
			Details: map[string]any{"batch_size": batchSize, "limit": a.batchLimit},
		}
	}
	if req.Kind == "" {
		req.Kind = domain.KindSMS
	}
	if req.Channel == "" {
		req.Channel = domain.ChannelSMS
	}

	candidates := req.Recipients
	if candidates == nil {
		var err error
		candidates, err = a.customers.ListCandidates(ctx, req.Filter)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
	}

	sets, err := a.gatherer.Gather(ctx, a.exclusionSources(req.Exclusions))
	if err != nil {
		return nil, err
	}

	resolution := ResolveRecipients(candidates, sets)
	for name, n := range resolution.Stats.ExcludedBySet {
		recipientsExcludedCounter.WithLabelValues(name).Add(float64(n))
	}

	chunks, err := SplitRecipients(resolution.Eligible, batchSize)
	if err != nil {
		return nil, err
	}

	plan := &DraftPlan{Stats: resolution.Stats, Campaigns: make([]*domain.Campaign, 0, len(chunks))}
	if n := len(resolution.Unmatchable); n > 0 {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("%d recipients have unnormalizable phones and were kept without dedup or exclusion", n))
	}
	if len(chunks) == 0 {
		plan.Warnings = append(plan.Warnings, "no eligible recipients; no drafts created")
		return plan, nil
	}

	for i, chunk := range chunks {
		c := domain.NewDraft(req.Channel, req.Kind, req.Template, chunk)
		c.Honorific = req.Honorific
		c.Vars = req.Vars
		c.ImageRef = req.ImageRef
		c.BatchIndex = i + 1
		c.BatchTotal = len(chunks)
		c.Note = batchNote(req.Note, i+1, len(chunks))
		plan.Campaigns = append(plan.Campaigns, c)
	}
	if err := a.campaigns.CreateMany(ctx, plan.Campaigns); err != nil {
		return nil, fmt.Errorf("store drafts: %w", err)
	}
	draftsCreatedCounter.Add(float64(len(plan.Campaigns)))

	probe := &domain.Campaign{Template: req.Template, Honorific: req.Honorific, Vars: req.Vars}
	plan.LintWarnings = LintTemplate(req.Template, resolution.Eligible, probe.RenderVars())

	a.logger.InfoContext(ctx, "Draft batches created",
		"drafts", len(plan.Campaigns), "eligible", resolution.Stats.Eligible,
		"excluded", resolution.Stats.Excluded, "duplicates", resolution.Stats.Duplicates,
		"unmatchable", resolution.Stats.Unmatchable)
	return plan, nil
}

func batchNote(base string, i, n int) string {
	tag := fmt.Sprintf("batch %d/%d", i, n)
	if strings.TrimSpace(base) == "" {
		return tag
	}
	return base + " " + tag
}

func (a *Application) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := a.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return c, nil
}

func (a *Application) ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]*domain.Campaign, error) {
	return a.campaigns.List(ctx, filter)
}

// EditDraft applies an operator edit. Past draft only the note may change.
func (a *Application) EditDraft(ctx context.Context, id uuid.UUID, edit domain.DraftEdit) (*domain.Campaign, error) {
	c, err := a.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEdit(edit); err != nil {
		return nil, err
	}
	if c.Status != domain.StatusDraft {
		if err := a.campaigns.UpdateNote(ctx, id, c.Note); err != nil {
			return nil, fmt.Errorf("update note: %w", err)
		}
		return c, nil
	}
	if err := a.campaigns.UpdateDraft(ctx, c); err != nil {
		return nil, fmt.Errorf("update draft: %w", err)
	}
	return c, nil
}

// AttachMedia sets the image reference and turns the draft into a media campaign.
func (a *Application) AttachMedia(ctx context.Context, id uuid.UUID, imageRef string) (*domain.Campaign, error) {
	if strings.TrimSpace(imageRef) == "" {
		return nil, fmt.Errorf("image reference is required")
	}
	kind := domain.KindMMS
	return a.EditDraft(ctx, id, domain.DraftEdit{ImageRef: &imageRef, Kind: &kind})
}

// SplitDraft re-splits a draft. The original keeps the first chunk; the rest
// become new drafts sharing its content.
func (a *Application) SplitDraft(ctx context.Context, id uuid.UUID, batchSize int) ([]*domain.Campaign, error) {
	c, err := a.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.RequireDraft("split"); err != nil {
		return nil, err
	}
	if err := c.RequireNoPendingDispatch("split"); err != nil {
		return nil, err
	}
	if batchSize > a.batchLimit {
		batchSize = a.batchLimit
	}
	chunks, err := SplitRecipients(c.Recipients, batchSize)
	if err != nil {
		return nil, err
	}
	if len(chunks) <= 1 {
		return []*domain.Campaign{c}, nil
	}

	baseNote := c.Note
	c.Recipients = chunks[0]
	c.Note = splitNote(baseNote, 1, len(chunks))
	c.UpdatedAt = a.now()

	created := make([]*domain.Campaign, 0, len(chunks)-1)
	for i, chunk := range chunks[1:] {
		child := domain.NewDraft(c.Channel, c.Kind, c.Template, chunk)
		child.ParentID = c.ParentID
		child.Honorific = c.Honorific
		child.Vars = c.Vars
		child.ImageRef = c.ImageRef
		child.BatchIndex = c.BatchIndex
		child.BatchTotal = c.BatchTotal
		child.Note = splitNote(baseNote, i+2, len(chunks))
		created = append(created, child)
	}

	if err := a.campaigns.SplitDraft(ctx, c, created); err != nil {
		return nil, fmt.Errorf("split draft %s: %w", id, err)
	}
	draftsCreatedCounter.Add(float64(len(created)))
	a.logger.InfoContext(ctx, "Draft split", "campaign_id", id, "parts", len(chunks))
	return append([]*domain.Campaign{c}, created...), nil
}

func splitNote(base string, i, n int) string {
	tag := fmt.Sprintf("(split %d/%d)", i, n)
	if strings.TrimSpace(base) == "" {
		return tag
	}
	return base + " " + tag
}

// Schedule moves a draft to scheduled for delivery at at.
func (a *Application) Schedule(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Campaign, error) {
	c, err := a.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domain.ScheduleGuard(at, a.now()); err != nil {
		return nil, err
	}
	if c.Status == domain.StatusDraft {
		if err := CheckDispatchable(c, a.batchLimit); err != nil {
			return nil, err
		}
	}
	from := c.Status
	if err := c.TransitionTo(domain.StatusScheduled, a.batchLimit); err != nil {
		return nil, err
	}
	at = at.UTC()
	if err := a.campaigns.UpdateStatus(ctx, id, from, domain.StatusScheduled, &at); err != nil {
		return nil, fmt.Errorf("schedule campaign %s: %w", id, err)
	}
	c.ScheduledAt = &at
	a.logger.InfoContext(ctx, "Campaign scheduled", "campaign_id", id, "scheduled_at", at)
	return c, nil
}

// CancelSchedule returns a scheduled campaign to draft.
func (a *Application) CancelSchedule(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := a.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusScheduled {
		return nil, &domain.GuardError{
			Code:    domain.GuardIllegalTransition,
			Reason:  fmt.Sprintf("only scheduled campaigns can be unscheduled, campaign is %s", c.Status),
			Details: map[string]any{"campaign_id": id, "status": c.Status},
		}
	}
	if err := c.TransitionTo(domain.StatusDraft, a.batchLimit); err != nil {
		return nil, err
	}
	if err := a.campaigns.UpdateStatus(ctx, id, domain.StatusScheduled, domain.StatusDraft, nil); err != nil {
		return nil, fmt.Errorf("unschedule campaign %s: %w", id, err)
	}
	c.ScheduledAt = nil
	return c, nil
}

// DeleteDraft removes a draft. Anything past draft is kept for the record.
func (a *Application) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	c, err := a.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if err := c.RequireDraft("delete"); err != nil {
		return err
	}
	if err := c.RequireNoPendingDispatch("delete"); err != nil {
		return err
	}
	if err := a.campaigns.DeleteDraft(ctx, id); err != nil {
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	return nil
}

// FollowUpRequest creates drafts that re-target part of an earlier campaign.
// Without Recipients the parent's rejected recipients are used.
type FollowUpRequest struct {
	Recipients []domain.Recipient
	Template   *string
	Note       string
}

// CreateFollowUp builds child drafts of a dispatched or failed campaign.
func (a *Application) CreateFollowUp(ctx context.Context, parentID uuid.UUID, req FollowUpRequest) ([]*domain.Campaign, error) {
	parent, err := a.GetCampaign(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status == domain.StatusDraft || parent.Status == domain.StatusScheduled {
		return nil, &domain.GuardError{
			Code:    domain.GuardIllegalTransition,
			Reason:  fmt.Sprintf("campaign in %s can be edited directly; follow-ups are for dispatched campaigns", parent.Status),
			Details: map[string]any{"campaign_id": parentID, "status": parent.Status},
		}
	}

	recipients := req.Recipients
	if recipients == nil {
		for _, r := range parent.RejectedRecipients {
			recipients = append(recipients, domain.Recipient{Phone: r.Phone})
		}
	}
	if len(recipients) == 0 {
		return nil, &domain.GuardError{
			Code:    domain.GuardNoRecipients,
			Reason:  "follow-up has no recipients",
			Details: map[string]any{"parent_id": parentID},
		}
	}

	// Someone may have opted out since the parent went out.
	sets, err := a.gatherer.Gather(ctx, []ExclusionSource{OptOutSource(a.customers)})
	if err != nil {
		return nil, err
	}
	resolution := ResolveRecipients(recipients, sets)
	for name, n := range resolution.Stats.ExcludedBySet {
		recipientsExcludedCounter.WithLabelValues(name).Add(float64(n))
	}
	if len(resolution.Eligible) == 0 {
		return nil, &domain.GuardError{
			Code:    domain.GuardNoRecipients,
			Reason:  "every follow-up recipient is a duplicate or has opted out",
			Details: map[string]any{"parent_id": parentID, "excluded": resolution.Stats.Excluded},
		}
	}
	recipients = resolution.Eligible

	template := parent.Template
	if req.Template != nil {
		template = *req.Template
	}

	chunks, err := SplitRecipients(recipients, a.batchLimit)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSpace(fmt.Sprintf("follow-up of %s %s", parentID, req.Note))
	children := make([]*domain.Campaign, 0, len(chunks))
	for i, chunk := range chunks {
		child := domain.NewDraft(parent.Channel, parent.Kind, template, chunk)
		child.ParentID = uuid.NullUUID{UUID: parentID, Valid: true}
		child.Honorific = parent.Honorific
		child.Vars = parent.Vars
		child.ImageRef = parent.ImageRef
		child.BatchIndex = i + 1
		child.BatchTotal = len(chunks)
		child.Note = batchNote(base, i+1, len(chunks))
		children = append(children, child)
	}
	if err := a.campaigns.CreateMany(ctx, children); err != nil {
		return nil, fmt.Errorf("store follow-up drafts: %w", err)
	}
	draftsCreatedCounter.Add(float64(len(children)))
	a.logger.InfoContext(ctx, "Follow-up drafts created", "parent_id", parentID, "drafts", len(children))
	return children, nil
}

// Lint reports unresolved placeholders of a stored campaign.
func (a *Application) Lint(ctx context.Context, id uuid.UUID) ([]LintWarning, error) {
	c, err := a.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	return LintTemplate(c.Template, c.Recipients, c.RenderVars()), nil
}
