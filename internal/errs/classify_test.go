package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want Kind
	}{
		{"Your API key was reported as leaked", KindCredentialRejected},
		{"key LEAKED upstream", KindCredentialRejected},
		{"this key has been reported", KindCredentialRejected},
		{"API key not valid: invalid", KindCredentialRejected},
		{"401 Unauthorized", KindCredentialRejected},
		{"You exceeded your current quota", KindQuotaExceeded},
		{"Rate limit reached for gpt-4o", KindQuotaExceeded},
		{"upstream returned 429 while processing request", KindQuotaExceeded},
		{"HTTP 429", KindQuotaExceeded},
		{"connection refused", KindGeneric},
		{"", KindGeneric},
	}
	for _, tc := range cases {
		if got := Classify(tc.msg); got != tc.want {
			t.Fatalf("Classify(%q)=%s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestClassify_CredentialBeforeQuota(t *testing.T) {
	t.Parallel()
	require.Equal(t, KindCredentialRejected, Classify("429: unauthorized"))
}

func TestClassifiedError_UserMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, MsgCredentialRejected, Wrap(errors.New("invalid key")).UserMessage("x"))
	require.Equal(t, MsgQuotaExceeded, Wrap(errors.New("quota")).UserMessage("x"))
	require.Equal(t, "boom", Wrap(errors.New("boom")).UserMessage("x"))
	require.Equal(t, "fallback", (&ClassifiedError{}).UserMessage("fallback"))
	require.Equal(t, "No code", Validation("No code").UserMessage("x"))
}

func TestWrap_KeepsClassificationAndCause(t *testing.T) {
	t.Parallel()

	require.Nil(t, Wrap(nil))

	v := Validation("empty")
	wrapped := fmt.Errorf("submit: %w", v)
	require.Same(t, v, Wrap(wrapped))

	cause := fmt.Errorf("call: %w", ErrRateLimited)
	ce := Wrap(cause)
	require.ErrorIs(t, ce, ErrRateLimited)
	require.Equal(t, KindQuotaExceeded, ce.Kind)
}

func TestKind_String(t *testing.T) {
	t.Parallel()
	require.Equal(t, "generic", KindGeneric.String())
	require.Equal(t, "validation", KindValidation.String())
	require.Equal(t, "credential_rejected", KindCredentialRejected.String())
	require.Equal(t, "quota_exceeded", KindQuotaExceeded.String())
}
