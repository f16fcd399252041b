package errs

import (
	"errors"
	"strings"
)

// Kind is the taxonomy tag attached to a failure for display purposes.
type Kind int

const (
	// KindGeneric is any failure not matched by the table below.
	KindGeneric Kind = iota
	// KindValidation is detected locally and never reaches the network.
	KindValidation
	// KindCredentialRejected means the provider refused the stored API key.
	KindCredentialRejected
	// KindQuotaExceeded means the provider quota or rate limit was hit.
	KindQuotaExceeded
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCredentialRejected:
		return "credential_rejected"
	case KindQuotaExceeded:
		return "quota_exceeded"
	default:
		return "generic"
	}
}

// Matched case-insensitively against the failure message, in this order.
var (
	credentialMarkers = []string{"leak", "leaked", "reported", "invalid", "unauthorized"}
	quotaMarkers      = []string{"quota", "rate limit", "429"}
)

// User-facing messages.
const (
	MsgCredentialRejected = "AI provider key invalid, rotate your key in Settings."
	MsgQuotaExceeded      = "AI provider quota exceeded, try again later or rotate your key."
	MsgGenericFailure     = "An error occurred while analyzing the code"
)

// Classify maps a failure message to a Kind. It never returns KindValidation;
// validation failures are created locally with Validation.
func Classify(msg string) Kind {
	lower := strings.ToLower(msg)
	if containsAny(lower, credentialMarkers) {
		return KindCredentialRejected
	}
	if containsAny(lower, quotaMarkers) {
		return KindQuotaExceeded
	}
	return KindGeneric
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ClassifiedError is a failure tagged with its Kind. It is derived for
// display and never persisted.
type ClassifiedError struct {
	Kind    Kind
	Message string // original message
	Err     error  // underlying cause, may be nil
}

func (e *ClassifiedError) Error() string { return e.Message }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// UserMessage renders the failure for the user. Generic failures show the
// original message, or fallback when it is empty.
func (e *ClassifiedError) UserMessage(fallback string) string {
	switch e.Kind {
	case KindCredentialRejected:
		return MsgCredentialRejected
	case KindQuotaExceeded:
		return MsgQuotaExceeded
	}
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

// Validation builds a locally detected failure.
func Validation(msg string) *ClassifiedError {
	return &ClassifiedError{Kind: KindValidation, Message: msg}
}

// Wrap classifies err. An error that is already classified is returned as is.
func Wrap(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	msg := err.Error()
	return &ClassifiedError{Kind: Classify(msg), Message: msg, Err: err}
}
