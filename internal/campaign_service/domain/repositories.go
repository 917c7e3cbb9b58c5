package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CampaignRepository persists batch records. Writes that depend on the current
// status take the expected status and fail with ErrConcurrentModification
// when it no longer holds.
type CampaignRepository interface {
	Create(ctx context.Context, c *Campaign) error
	CreateMany(ctx context.Context, campaigns []*Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*Campaign, error)
	List(ctx context.Context, filter CampaignFilter) ([]*Campaign, error)
	UpdateDraft(ctx context.Context, c *Campaign) error
	UpdateNote(ctx context.Context, id uuid.UUID, note string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to CampaignStatus, scheduledAt *time.Time) error
	SplitDraft(ctx context.Context, original *Campaign, created []*Campaign) error
	DeleteDraft(ctx context.Context, id uuid.UUID) error
	MarkDispatching(ctx context.Context, id uuid.UUID, from CampaignStatus, dispatchKey string) error
	RecordDispatchFailure(ctx context.Context, id uuid.UUID, reason string) (int, error)
	CommitDispatch(ctx context.Context, id uuid.UUID, from CampaignStatus, commit DispatchCommit) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*Campaign, error)
}

// DeliveryGroupRepository stores per-group delivery counters.
type DeliveryGroupRepository interface {
	FindCampaignIDByGroup(ctx context.Context, groupID string) (uuid.UUID, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*DeliveryGroup, error)
	// ApplyGroupUpdate stores one group's counters and rewrites the campaign
	// totals from all of its groups in the same transaction, holding the
	// campaign row lock so concurrent reports for sibling groups serialize.
	ApplyGroupUpdate(ctx context.Context, g *DeliveryGroup) (*GroupRollup, error)
	ListPending(ctx context.Context, limit int) ([]*DeliveryGroup, error)
}

// CandidateFilter selects the recipient universe from the customer store.
type CandidateFilter struct {
	Tags     []string `json:"tags,omitempty"`
	Province string   `json:"province,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// CustomerSource is the external relational store of customers and prior contacts.
// Every phone it returns as a set member is already normalized.
type CustomerSource interface {
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]Recipient, error)
	ListAlreadyContacted(ctx context.Context, channel Channel, campaignIDs []string) ([]NormalizedPhone, error)
	ListSurveyRespondents(ctx context.Context) ([]NormalizedPhone, error)
	ListChannelFriends(ctx context.Context, channel Channel) ([]NormalizedPhone, error)
	ListOptedOut(ctx context.Context) ([]NormalizedPhone, error)
}

// MessageLogRepository records who received what, feeding ListAlreadyContacted.
type MessageLogRepository interface {
	RecordSent(ctx context.Context, campaignID uuid.UUID, channel Channel, phones []NormalizedPhone, sentAt time.Time) error
}
