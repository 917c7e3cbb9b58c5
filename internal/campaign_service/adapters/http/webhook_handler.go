package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/masgolf/golang_services/internal/campaign_service/app"
	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body, optionally
// prefixed with "sha256=".
const SignatureHeader = "X-Webhook-Signature"

// WebhookHandler receives provider delivery reports pushed over HTTP.
type WebhookHandler struct {
	status StatusService
	secret []byte
	logger *slog.Logger
}

func NewWebhookHandler(status StatusService, secret []byte, logger *slog.Logger) *WebhookHandler {
	h := &WebhookHandler{status: status, secret: secret, logger: logger.With("component", "webhook_handler")}
	if len(secret) == 0 {
		h.logger.Warn("Webhook signature check disabled: no webhook secret configured")
	}
	return h
}

// SignPayload returns the signature value a sender puts in SignatureHeader.
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) verifySignature(header string, body []byte) bool {
	if len(h.secret) == 0 {
		return true
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// HandleProviderStatus accepts one report object or an array of them.
// Orphaned group ids are counted, not failed, so the provider stops retrying.
func (h *WebhookHandler) HandleProviderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read webhook body", "error", err)
		writeErrorDTO(w, http.StatusBadRequest, "invalid_body", "error reading request body")
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if !h.verifySignature(signature, raw) {
		logger.WarnContext(ctx, "Webhook signature verification failed", "signature_present", signature != "")
		writeErrorDTO(w, http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
		return
	}

	var reports []app.StatusCallback
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &reports)
	} else {
		var one app.StatusCallback
		err = json.Unmarshal(raw, &one)
		reports = []app.StatusCallback{one}
	}
	if err != nil {
		logger.WarnContext(ctx, "Malformed webhook payload", "error", err)
		writeErrorDTO(w, http.StatusBadRequest, "invalid_body", "invalid status payload")
		return
	}

	var resp WebhookResponseDTO
	for _, cb := range reports {
		if cb.GroupID == "" {
			resp.Failed++
			continue
		}
		err := h.status.Reconcile(ctx, cb.GroupID, domain.GroupStatus{
			GroupID: cb.GroupID, Success: cb.Success, Fail: cb.Fail, Pending: cb.Pending, Final: cb.Final,
		})
		switch {
		case err == nil:
			resp.Applied++
		case errors.Is(err, domain.ErrStatusReconciliationOrphan):
			resp.Orphaned++
		default:
			logger.ErrorContext(ctx, "Webhook report not applied", "group_id", cb.GroupID, "error", err)
			resp.Failed++
		}
	}

	status := http.StatusOK
	if resp.Failed > 0 && resp.Applied == 0 && resp.Orphaned == 0 {
		// Nothing went through; let the provider retry.
		status = http.StatusInternalServerError
	}
	logger.InfoContext(ctx, "Provider status webhook processed",
		"applied", resp.Applied, "orphaned", resp.Orphaned, "failed", resp.Failed)
	writeJSON(w, status, resp)
}
