package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the medium a campaign goes out on.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelKakao Channel = "kakao"
)

// CampaignStatus is the lifecycle state of one batch record.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusSent      CampaignStatus = "sent"
	StatusClosed    CampaignStatus = "closed"
	StatusFailed    CampaignStatus = "failed"
)

var allowedTransitions = map[CampaignStatus][]CampaignStatus{
	StatusDraft:     {StatusScheduled, StatusSent},
	StatusScheduled: {StatusSent, StatusFailed, StatusDraft}, // back to draft = cancel
	StatusSent:      {StatusClosed, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsDispatched is true once a provider accepted the batch.
func (s CampaignStatus) IsDispatched() bool {
	return s == StatusSent || s == StatusClosed
}

// Campaign is one provider-compliant batch: a template, an ordered recipient
// list and its delivery bookkeeping. Recipients are frozen once it leaves draft.
type Campaign struct {
	ID          uuid.UUID         `json:"id"`
	ParentID    uuid.NullUUID     `json:"parent_id"`
	Channel     Channel           `json:"channel"`
	Kind        MessageKind       `json:"kind"`
	Template    string            `json:"template"`
	Honorific   string            `json:"honorific,omitempty"`
	Vars        map[string]string `json:"vars,omitempty"`
	Recipients  []Recipient       `json:"recipients"`
	ImageRef    *string           `json:"image_ref,omitempty"`
	Status      CampaignStatus    `json:"status"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	Note        string            `json:"note"`
	BatchIndex  int               `json:"batch_index"`
	BatchTotal  int               `json:"batch_total"`

	// Provider group ids; one batch may fragment into several groups.
	GroupIDs []string `json:"group_ids"`

	// DispatchKey is written before the provider is called so that a crashed
	// attempt can be found at the provider instead of being resent.
	DispatchKey      *string `json:"dispatch_key,omitempty"`
	DispatchAttempts int     `json:"dispatch_attempts"`
	LastError        *string `json:"last_error,omitempty"`

	AcceptedCount      int                 `json:"accepted_count"`
	RejectedRecipients []RejectedRecipient `json:"rejected_recipients,omitempty"`
	SuccessCount       int                 `json:"success_count"`
	FailCount          int                 `json:"fail_count"`
	PendingCount       int                 `json:"pending_count"`

	SentAt    *time.Time `json:"sent_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewDraft builds a draft campaign with a fresh id.
func NewDraft(channel Channel, kind MessageKind, template string, recipients []Recipient) *Campaign {
	now := time.Now().UTC()
	return &Campaign{
		ID:         uuid.New(),
		Channel:    channel,
		Kind:       kind,
		Template:   template,
		Recipients: recipients,
		Status:     StatusDraft,
		GroupIDs:   []string{},
		BatchIndex: 1,
		BatchTotal: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RenderVars are the campaign-level template values, honorific included.
func (c *Campaign) RenderVars() map[string]string {
	vars := make(map[string]string, len(c.Vars)+1)
	for k, v := range c.Vars {
		vars[k] = v
	}
	if c.Honorific != "" {
		vars["honorific"] = c.Honorific
	}
	return vars
}

// CheckSendable verifies the structural preconditions for leaving draft.
func (c *Campaign) CheckSendable(batchLimit int) error {
	n := len(c.Recipients)
	if n == 0 {
		return newGuardError(GuardNoRecipients, map[string]any{"campaign_id": c.ID},
			"campaign has no recipients")
	}
	if n > batchLimit {
		return newGuardError(GuardBatchLimitExceeded,
			map[string]any{"recipients": n, "limit": batchLimit},
			"%d recipients exceeds limit of %d: split required", n, batchLimit)
	}
	if c.Kind.HasMedia() && (c.ImageRef == nil || *c.ImageRef == "") {
		return newGuardError(GuardMissingMedia, map[string]any{"campaign_id": c.ID},
			"%s campaign requires an image reference", c.Kind)
	}
	return nil
}

// TransitionTo moves the campaign to status to if the lifecycle allows it.
// Leaving draft additionally requires the campaign to be sendable.
func (c *Campaign) TransitionTo(to CampaignStatus, batchLimit int) error {
	if !CanTransition(c.Status, to) {
		return newGuardError(GuardIllegalTransition,
			map[string]any{"from": c.Status, "to": to},
			"cannot move campaign from %s to %s", c.Status, to)
	}
	if c.Status == StatusDraft {
		if err := c.CheckSendable(batchLimit); err != nil {
			return err
		}
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// DraftEdit lists the fields an operator may change. Nil means unchanged.
type DraftEdit struct {
	Template   *string
	Kind       *MessageKind
	Honorific  *string
	Vars       map[string]string
	Recipients []Recipient
	ImageRef   *string
	ClearImage bool
	Note       *string
}

func (e DraftEdit) touchesContent() bool {
	return e.Template != nil || e.Kind != nil || e.Honorific != nil || e.Vars != nil ||
		e.Recipients != nil || e.ImageRef != nil || e.ClearImage
}

// NoteOnly is true when the edit is allowed on campaigns past draft.
func (e DraftEdit) NoteOnly() bool {
	return !e.touchesContent()
}

// ApplyEdit mutates the campaign. Outside draft only the note may change.
func (c *Campaign) ApplyEdit(e DraftEdit) error {
	if c.Status != StatusDraft && e.touchesContent() {
		return newGuardError(GuardImmutableCampaign,
			map[string]any{"campaign_id": c.ID, "status": c.Status},
			"campaign in %s can only change its note", c.Status)
	}
	if e.touchesContent() {
		if err := c.RequireNoPendingDispatch("edit"); err != nil {
			return err
		}
	}
	if e.Template != nil {
		c.Template = *e.Template
	}
	if e.Kind != nil {
		c.Kind = *e.Kind
	}
	if e.Honorific != nil {
		c.Honorific = *e.Honorific
	}
	if e.Vars != nil {
		c.Vars = e.Vars
	}
	if e.Recipients != nil {
		c.Recipients = e.Recipients
	}
	if e.ClearImage {
		c.ImageRef = nil
	}
	if e.ImageRef != nil {
		ref := *e.ImageRef
		c.ImageRef = &ref
	}
	if e.Note != nil {
		c.Note = *e.Note
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// RequireDraft is the guard for operations that only make sense on drafts.
func (c *Campaign) RequireDraft(operation string) error {
	if c.Status != StatusDraft {
		return newGuardError(GuardImmutableCampaign,
			map[string]any{"campaign_id": c.ID, "status": c.Status, "operation": operation},
			"%s is only allowed on drafts, campaign is %s", operation, c.Status)
	}
	return nil
}

// RequireNoPendingDispatch refuses operations that would change what an
// earlier, unconfirmed send carried. The provider may hold groups for the old
// content under the dispatch key; a new dispatch recovers them or clears it.
func (c *Campaign) RequireNoPendingDispatch(operation string) error {
	if c.DispatchKey == nil {
		return nil
	}
	return newGuardError(GuardDispatchUnresolved,
		map[string]any{"campaign_id": c.ID, "dispatch_key": *c.DispatchKey, "operation": operation},
		"earlier dispatch attempt unresolved; dispatch again to recover it before %s", operation)
}

// ScheduleGuard rejects schedule times that are not in the future.
func ScheduleGuard(at, now time.Time) error {
	if !at.After(now) {
		return newGuardError(GuardInvalidSchedule,
			map[string]any{"scheduled_at": at, "now": now},
			"scheduled time %s is not in the future", at.Format(time.RFC3339))
	}
	return nil
}

// MessageTooLong builds the guard error for an oversized rendered message.
func MessageTooLong(phone string, size int) *GuardError {
	return newGuardError(GuardMessageTooLong,
		map[string]any{"phone": phone, "bytes": size, "limit": LMSByteLimit},
		"rendered message for %s is %d bytes, limit is %d", phone, size, LMSByteLimit)
}

// DispatchCommit is what the dispatcher records when a batch is accepted.
type DispatchCommit struct {
	GroupIDs      []string
	AcceptedCount int
	Rejected      []RejectedRecipient
	SentAt        time.Time
}

// CampaignFilter narrows List.
type CampaignFilter struct {
	Status   CampaignStatus
	ParentID uuid.NullUUID
	Limit    int
	Offset   int
}
