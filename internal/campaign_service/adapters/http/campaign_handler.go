package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/masgolf/golang_services/internal/campaign_service/app"
	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

const MaxRequestBodySize = 4 << 20

// CampaignService is the store-side lifecycle the handler drives.
type CampaignService interface {
	CreateDrafts(ctx context.Context, req app.CreateDraftsRequest) (*app.DraftPlan, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]*domain.Campaign, error)
	EditDraft(ctx context.Context, id uuid.UUID, edit domain.DraftEdit) (*domain.Campaign, error)
	AttachMedia(ctx context.Context, id uuid.UUID, imageRef string) (*domain.Campaign, error)
	SplitDraft(ctx context.Context, id uuid.UUID, batchSize int) ([]*domain.Campaign, error)
	Schedule(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Campaign, error)
	CancelSchedule(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	DeleteDraft(ctx context.Context, id uuid.UUID) error
	CreateFollowUp(ctx context.Context, parentID uuid.UUID, req app.FollowUpRequest) ([]*domain.Campaign, error)
	Lint(ctx context.Context, id uuid.UUID) ([]app.LintWarning, error)
}

type DispatchService interface {
	Dispatch(ctx context.Context, id uuid.UUID) (*app.DispatchResult, error)
}

type StatusService interface {
	Reconcile(ctx context.Context, groupID string, status domain.GroupStatus) error
	Resync(ctx context.Context, campaignID uuid.UUID) (*app.DeliverySummary, error)
}

type CampaignHandler struct {
	campaigns  CampaignService
	dispatcher DispatchService
	status     StatusService
	logger     *slog.Logger
	validate   *validator.Validate
}

func NewCampaignHandler(campaigns CampaignService, dispatcher DispatchService, status StatusService, logger *slog.Logger, validate *validator.Validate) *CampaignHandler {
	return &CampaignHandler{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		status:     status,
		logger:     logger.With("component", "campaign_handler"),
		validate:   validate,
	}
}

// decode reads and validates a JSON body, writing the 400 itself on failure.
func (h *CampaignHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", "path", r.URL.Path, "error", err)
		writeErrorDTO(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	if err := h.validate.StructCtx(r.Context(), dst); err != nil {
		writeErrorDTO(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("validation error: %s", err.Error()))
		return false
	}
	return true
}

func (h *CampaignHandler) campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		writeErrorDTO(w, http.StatusBadRequest, "invalid_id", "campaign id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseKind(w http.ResponseWriter, s string) (domain.MessageKind, bool) {
	kind, ok := domain.ParseMessageKind(s)
	if !ok {
		writeErrorDTO(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("unknown message kind %q", s))
	}
	return kind, ok
}

func (h *CampaignHandler) CreateDrafts(w http.ResponseWriter, r *http.Request) {
	var dto CreateDraftsRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}
	kind, ok := parseKind(w, dto.Kind)
	if !ok {
		return
	}

	req := app.CreateDraftsRequest{
		Channel:    domain.Channel(dto.Channel),
		Kind:       kind,
		Template:   dto.Template,
		Honorific:  dto.Honorific,
		Vars:       dto.Vars,
		ImageRef:   dto.ImageRef,
		Note:       dto.Note,
		BatchSize:  dto.BatchSize,
		Filter:     domain.CandidateFilter{Tags: dto.Filter.Tags, Province: dto.Filter.Province, Limit: dto.Filter.Limit},
		Recipients: toRecipients(dto.Recipients),
		Exclusions: app.ExclusionSpec{
			SurveyRespondents: dto.Exclusions.SurveyRespondents,
			ChannelFriends:    toChannels(dto.Exclusions.ChannelFriends),
		},
	}
	for _, ac := range dto.Exclusions.AlreadyContacted {
		req.Exclusions.AlreadyContacted = append(req.Exclusions.AlreadyContacted,
			app.AlreadyContactedSpec{Channel: domain.Channel(ac.Channel), CampaignIDs: ac.CampaignIDs})
	}

	plan, err := h.campaigns.CreateDrafts(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, r, err, "create_drafts")
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err, "get_campaign")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CampaignFilter{Status: domain.CampaignStatus(q.Get("status"))}
	if p := q.Get("parent_id"); p != "" {
		parent, err := uuid.Parse(p)
		if err != nil {
			writeErrorDTO(w, http.StatusBadRequest, "invalid_id", "parent_id must be a UUID")
			return
		}
		filter.ParentID = uuid.NullUUID{UUID: parent, Valid: true}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	campaigns, err := h.campaigns.ListCampaigns(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, r, err, "list_campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []*domain.Campaign{}
	}
	writeJSON(w, http.StatusOK, CampaignListResponseDTO{Campaigns: campaigns, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *CampaignHandler) EditDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	var dto EditDraftRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}
	edit := domain.DraftEdit{
		Template:   dto.Template,
		Honorific:  dto.Honorific,
		Vars:       dto.Vars,
		Recipients: toRecipients(dto.Recipients),
		ImageRef:   dto.ImageRef,
		ClearImage: dto.ClearImage,
		Note:       dto.Note,
	}
	if dto.Kind != nil {
		kind, ok := parseKind(w, *dto.Kind)
		if !ok {
			return
		}
		edit.Kind = &kind
	}

	c, err := h.campaigns.EditDraft(r.Context(), id, edit)
	if err != nil {
		writeError(w, h.logger, r, err, "edit_draft")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) AttachMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	var dto AttachMediaRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}
	c, err := h.campaigns.AttachMedia(r.Context(), id, dto.ImageRef)
	if err != nil {
		writeError(w, h.logger, r, err, "attach_media")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) SplitDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	var dto SplitRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}
	parts, err := h.campaigns.SplitDraft(r.Context(), id, dto.BatchSize)
	if err != nil {
		writeError(w, h.logger, r, err, "split_draft")
		return
	}
	writeJSON(w, http.StatusOK, CampaignListResponseDTO{Campaigns: parts, Limit: len(parts)})
}

func (h *CampaignHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	var dto ScheduleRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}
	c, err := h.campaigns.Schedule(r.Context(), id, dto.ScheduledAt)
	if err != nil {
		writeError(w, h.logger, r, err, "schedule")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.campaigns.CancelSchedule(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err, "cancel_schedule")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	if err := h.campaigns.DeleteDraft(r.Context(), id); err != nil {
		writeError(w, h.logger, r, err, "delete_draft")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Send dispatches now. A batch the provider took but whose status write is
// still pending answers 202 with the group ids.
func (h *CampaignHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	res, err := h.dispatcher.Dispatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrCommitPending) && res != nil {
			h.logger.WarnContext(r.Context(), "Dispatch accepted with pending status write", "campaign_id", id, "group_ids", res.GroupIDs)
			writeJSON(w, http.StatusAccepted, res)
			return
		}
		writeError(w, h.logger, r, err, "send")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CampaignHandler) Resync(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	summary, err := h.status.Resync(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err, "resync")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *CampaignHandler) CreateFollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	var dto FollowUpRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}
	children, err := h.campaigns.CreateFollowUp(r.Context(), id, app.FollowUpRequest{
		Recipients: toRecipients(dto.Recipients),
		Template:   dto.Template,
		Note:       dto.Note,
	})
	if err != nil {
		writeError(w, h.logger, r, err, "create_follow_up")
		return
	}
	writeJSON(w, http.StatusCreated, CampaignListResponseDTO{Campaigns: children, Limit: len(children)})
}

func (h *CampaignHandler) Lint(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	warnings, err := h.campaigns.Lint(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err, "lint")
		return
	}
	if warnings == nil {
		warnings = []app.LintWarning{}
	}
	writeJSON(w, http.StatusOK, LintResponseDTO{Warnings: warnings})
}
