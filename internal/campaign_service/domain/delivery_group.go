package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupState tracks whether a provider group has reached its final counts.
type GroupState string

const (
	GroupPending    GroupState = "pending"
	GroupResolved   GroupState = "resolved"
	GroupUnresolved GroupState = "unresolved" // gave up waiting for a final status
)

// DeliveryGroup links one provider group id to the campaign it belongs to.
// A group id belongs to at most one campaign.
type DeliveryGroup struct {
	GroupID      string     `json:"group_id"`
	CampaignID   uuid.UUID  `json:"campaign_id"`
	State        GroupState `json:"state"`
	Success      int        `json:"success"`
	Fail         int        `json:"fail"`
	Pending      int        `json:"pending"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (g *DeliveryGroup) IsFinal() bool { return g.State != GroupPending }

// GroupStatus is a provider's report for one group.
type GroupStatus struct {
	GroupID string `json:"group_id"`
	Success int    `json:"success"`
	Fail    int    `json:"fail"`
	Pending int    `json:"pending"`
	Final   bool   `json:"final"`
}

// GroupRollup is a campaign's delivery totals recomputed from every stored
// group right after one group write.
type GroupRollup struct {
	CampaignID uuid.UUID
	Success    int
	Fail       int
	Pending    int
	Groups     int
	Resolved   int
	AllFinal   bool
}
