package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// Recipient and rejection lists are JSONB arrays of objects. Rows written by
// older tooling hold an array of bare phone strings, or the whole array
// double-encoded as a JSON string; both still decode.

// encodeJSON marshals v, writing empty instead of a JSON null.
func encodeJSON(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(b, []byte("null")) {
		return []byte(empty), nil
	}
	return b, nil
}

func unwrapLegacy(raw []byte) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		return unwrapLegacy([]byte(inner))
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func decodeRecipients(raw []byte) ([]domain.Recipient, error) {
	items, err := unwrapLegacy(raw)
	if err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	out := make([]domain.Recipient, 0, len(items))
	for _, item := range items {
		var r domain.Recipient
		if len(item) > 0 && item[0] == '"' {
			if err := json.Unmarshal(item, &r.Phone); err != nil {
				return nil, fmt.Errorf("decode recipient: %w", err)
			}
		} else if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("decode recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeRejected(raw []byte) ([]domain.RejectedRecipient, error) {
	items, err := unwrapLegacy(raw)
	if err != nil {
		return nil, fmt.Errorf("decode rejected recipients: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]domain.RejectedRecipient, 0, len(items))
	for _, item := range items {
		var r domain.RejectedRecipient
		if len(item) > 0 && item[0] == '"' {
			if err := json.Unmarshal(item, &r.Phone); err != nil {
				return nil, fmt.Errorf("decode rejected recipient: %w", err)
			}
		} else if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("decode rejected recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeVars(raw []byte) (map[string]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var vars map[string]string
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, fmt.Errorf("decode vars: %w", err)
	}
	return vars, nil
}
