package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                   = errors.New("resource not found")
	ErrConcurrentModification     = errors.New("campaign changed concurrently")
	ErrDispatchInProgress         = errors.New("campaign dispatch already in progress")
	ErrStatusReconciliationOrphan = errors.New("delivery group has no owning campaign")
	ErrNoGroupIDs                 = errors.New("provider returned no group ids")
	ErrCommitPending              = errors.New("provider accepted batch but status write is pending")

	// Guard sentinels; a *GuardError matches the one for its code via errors.Is.
	ErrBatchLimitExceeded = errors.New("batch limit exceeded")
	ErrNoRecipients       = errors.New("campaign has no recipients")
	ErrMissingMedia       = errors.New("media campaign has no image")
	ErrMessageTooLong     = errors.New("rendered message too long")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrImmutableCampaign  = errors.New("campaign is no longer editable")
	ErrInvalidSchedule    = errors.New("invalid schedule time")
	ErrDispatchUnresolved = errors.New("earlier dispatch attempt unresolved")
)

// GuardCode identifies why a campaign operation was refused.
type GuardCode string

const (
	GuardBatchLimitExceeded GuardCode = "batch_limit_exceeded"
	GuardNoRecipients       GuardCode = "no_recipients"
	GuardMissingMedia       GuardCode = "missing_media"
	GuardMessageTooLong     GuardCode = "message_too_long"
	GuardIllegalTransition  GuardCode = "illegal_transition"
	GuardImmutableCampaign  GuardCode = "immutable_campaign"
	GuardInvalidSchedule    GuardCode = "invalid_schedule"
	GuardDispatchUnresolved GuardCode = "dispatch_unresolved"
)

var guardSentinels = map[GuardCode]error{
	GuardBatchLimitExceeded: ErrBatchLimitExceeded,
	GuardNoRecipients:       ErrNoRecipients,
	GuardMissingMedia:       ErrMissingMedia,
	GuardMessageTooLong:     ErrMessageTooLong,
	GuardIllegalTransition:  ErrIllegalTransition,
	GuardImmutableCampaign:  ErrImmutableCampaign,
	GuardInvalidSchedule:    ErrInvalidSchedule,
	GuardDispatchUnresolved: ErrDispatchUnresolved,
}

// GuardError is a structured rejection surfaced to the operator.
type GuardError struct {
	Code    GuardCode      `json:"code"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *GuardError) Error() string { return e.Reason }

func (e *GuardError) Is(target error) bool {
	return guardSentinels[e.Code] == target
}

func newGuardError(code GuardCode, details map[string]any, format string, args ...any) *GuardError {
	return &GuardError{Code: code, Reason: fmt.Sprintf(format, args...), Details: details}
}

// ExclusionSourceUnavailableError aborts a resolution: proceeding without a
// source would re-contact the people it was meant to exclude.
type ExclusionSourceUnavailableError struct {
	Source string
	Err    error
}

func (e *ExclusionSourceUnavailableError) Error() string {
	return fmt.Sprintf("exclusion source %q unavailable: %v", e.Source, e.Err)
}

func (e *ExclusionSourceUnavailableError) Unwrap() error { return e.Err }

// ProviderCallError means the provider call itself failed and no group id was obtained.
type ProviderCallError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("provider %s call failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderCallError) Unwrap() error { return e.Err }
