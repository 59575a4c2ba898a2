package core

import "errors"

// Kind classifies a dispatch/exchange failure into the taxonomy the rest of
// the pipeline (retry policy, webhook status mapping, event emission) acts
// on. Kind is a classification, not a replacement for Go's error values —
// components wrap a Kind with context via KindError and callers recover it
// with AsKind.
type Kind string

const (
	KindValidation                Kind = "Validation"
	KindDuplicate                 Kind = "Duplicate"
	KindRiskRejected              Kind = "RiskRejected"
	KindAutoTradingDisabled       Kind = "AutoTradingDisabled"
	KindEntryNotFilled            Kind = "EntryNotFilled"
	KindCriticalProtectionFailure Kind = "CriticalProtectionFailure"
	KindTransientNetwork          Kind = "TransientNetwork"
	KindRateLimited               Kind = "RateLimited"
	KindInvalidRequest            Kind = "InvalidRequest"
	KindInsufficientMargin        Kind = "InsufficientMargin"
	KindPositionAlreadyPending    Kind = "PositionAlreadyOpenOrPending"
)

// Retryable reports whether a caller should retry with backoff.
func (k Kind) Retryable() bool {
	return k == KindTransientNetwork || k == KindRateLimited
}

// KindError pairs a Kind with an underlying cause and a human-readable reason.
type KindError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *KindError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Reason + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Reason
}

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError constructs a KindError.
func NewKindError(k Kind, reason string, err error) *KindError {
	return &KindError{Kind: k, Reason: reason, Err: err}
}

// AsKind recovers the Kind from err, if any component in its chain is a
// *KindError. ok is false for plain errors; each caller picks its own
// fallback (the webhook reports "rejected:error", the Hyperliquid Connect
// retry treats them as transient).
func AsKind(err error) (Kind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return "", false
}
