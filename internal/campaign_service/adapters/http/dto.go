package http

import (
	"time"

	"github.com/masgolf/golang_services/internal/campaign_service/app"
	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// --- Request DTOs ---

type RecipientDTO struct {
	Phone  string            `json:"phone" validate:"required,max=32"`
	Name   string            `json:"name,omitempty" validate:"max=128"`
	Fields map[string]string `json:"fields,omitempty"`
}

type AlreadyContactedDTO struct {
	Channel     string   `json:"channel" validate:"required,oneof=sms kakao"`
	CampaignIDs []string `json:"campaign_ids,omitempty" validate:"omitempty,dive,uuid"`
}

type ExclusionsDTO struct {
	AlreadyContacted  []AlreadyContactedDTO `json:"already_contacted,omitempty" validate:"omitempty,dive"`
	SurveyRespondents bool                  `json:"survey_respondents,omitempty"`
	ChannelFriends    []string              `json:"channel_friends,omitempty" validate:"omitempty,dive,oneof=sms kakao"`
}

type CandidateFilterDTO struct {
	Tags     []string `json:"tags,omitempty"`
	Province string   `json:"province,omitempty"`
	Limit    int      `json:"limit,omitempty" validate:"gte=0"`
}

// CreateDraftsRequestDTO resolves recipients and stores the resulting draft batches.
// Recipients, when given, replace the customer-store query.
type CreateDraftsRequestDTO struct {
	Channel    string             `json:"channel" validate:"required,oneof=sms kakao"`
	Kind       string             `json:"kind" validate:"required"`
	Template   string             `json:"template" validate:"required"`
	Honorific  string             `json:"honorific,omitempty" validate:"max=64"`
	Vars       map[string]string  `json:"vars,omitempty"`
	ImageRef   *string            `json:"image_ref,omitempty"`
	Note       string             `json:"note,omitempty"`
	BatchSize  int                `json:"batch_size,omitempty" validate:"gte=0"`
	Filter     CandidateFilterDTO `json:"filter"`
	Recipients []RecipientDTO     `json:"recipients,omitempty" validate:"omitempty,dive"`
	Exclusions ExclusionsDTO      `json:"exclusions"`
}

// EditDraftRequestDTO patches a draft. Only Note may change once a campaign left draft.
type EditDraftRequestDTO struct {
	Template   *string           `json:"template,omitempty"`
	Kind       *string           `json:"kind,omitempty"`
	Honorific  *string           `json:"honorific,omitempty"`
	Vars       map[string]string `json:"vars,omitempty"`
	Recipients []RecipientDTO    `json:"recipients,omitempty" validate:"omitempty,dive"`
	ImageRef   *string           `json:"image_ref,omitempty"`
	ClearImage bool              `json:"clear_image,omitempty"`
	Note       *string           `json:"note,omitempty"`
}

type SplitRequestDTO struct {
	BatchSize int `json:"batch_size" validate:"required,gt=0"`
}

type AttachMediaRequestDTO struct {
	ImageRef string `json:"image_ref" validate:"required"`
}

type ScheduleRequestDTO struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

type FollowUpRequestDTO struct {
	Recipients []RecipientDTO `json:"recipients,omitempty" validate:"omitempty,dive"`
	Template   *string        `json:"template,omitempty"`
	Note       string         `json:"note,omitempty"`
}

// --- Response DTOs ---

type ErrorResponseDTO struct {
	Code    string         `json:"code"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

type CampaignListResponseDTO struct {
	Campaigns []*domain.Campaign `json:"campaigns"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

type LintResponseDTO struct {
	Warnings []app.LintWarning `json:"warnings"`
}

type WebhookResponseDTO struct {
	Applied  int `json:"applied"`
	Orphaned int `json:"orphaned"`
	Failed   int `json:"failed"`
}

func toRecipients(in []RecipientDTO) []domain.Recipient {
	if in == nil {
		return nil
	}
	out := make([]domain.Recipient, len(in))
	for i, r := range in {
		out[i] = domain.Recipient{Phone: r.Phone, Name: r.Name, Fields: r.Fields}
	}
	return out
}

func toChannels(in []string) []domain.Channel {
	out := make([]domain.Channel, len(in))
	for i, c := range in {
		out[i] = domain.Channel(c)
	}
	return out
}
