package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErrorDTO(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, ErrorResponseDTO{Code: code, Reason: reason})
}

// writeError maps domain errors to HTTP. Guard errors keep their structured
// payload so operators see why a campaign was refused.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error, operation string) {
	ctx := r.Context()

	var guard *domain.GuardError
	var exclusion *domain.ExclusionSourceUnavailableError
	var callErr *domain.ProviderCallError
	switch {
	case errors.As(err, &guard):
		status := http.StatusUnprocessableEntity
		switch guard.Code {
		case domain.GuardIllegalTransition, domain.GuardImmutableCampaign, domain.GuardDispatchUnresolved:
			status = http.StatusConflict
		}
		logger.WarnContext(ctx, "Operation refused", "operation", operation, "code", guard.Code, "reason", guard.Reason)
		writeJSON(w, status, ErrorResponseDTO{Code: string(guard.Code), Reason: guard.Reason, Details: guard.Details})
	case errors.Is(err, domain.ErrNotFound):
		writeErrorDTO(w, http.StatusNotFound, "not_found", "campaign not found")
	case errors.Is(err, domain.ErrDispatchInProgress):
		writeErrorDTO(w, http.StatusConflict, "dispatch_in_progress", err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeErrorDTO(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.As(err, &exclusion):
		logger.ErrorContext(ctx, "Exclusion source unavailable", "operation", operation, "source", exclusion.Source, "error", err)
		writeErrorDTO(w, http.StatusServiceUnavailable, "exclusion_source_unavailable", err.Error())
	case errors.As(err, &callErr):
		logger.ErrorContext(ctx, "Provider call failed", "operation", operation, "error", err)
		writeErrorDTO(w, http.StatusBadGateway, "provider_call_failed", err.Error())
	default:
		logger.ErrorContext(ctx, "Operation failed", "operation", operation, "error", err)
		writeErrorDTO(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
