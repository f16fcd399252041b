// Package vault round-trips the user's AI provider key with the backend.
// Only the masked projection the backend returns is ever kept.
package vault

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/api"
	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/model"
)

// Status messages.
const (
	MsgLoaded       = "Loaded saved key"
	MsgSaved        = "Saved"
	MsgDeleted      = "Deleted"
	MsgSaveFailed   = "Failed to save API key"
	MsgDeleteFailed = "Failed to delete key"
	MsgEmptyKey     = "Enter an API key"
	MsgSignInFirst  = "Sign in to manage your API key"
)

// Backend is the subset of the backend client the vault uses.
type Backend interface {
	SaveAPIKey(ctx context.Context, token, raw string) (string, error)
	GetAPIKey(ctx context.Context, token string) (*api.KeyResponse, error)
	DeleteAPIKey(ctx context.Context, token string) error
}

// TokenSource yields a fresh access token, or false when anonymous.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// State is what a settings view renders.
type State struct {
	Masked   string
	Provider model.Provider
	Status   string
	Kind     errs.Kind // kind of the last failure
	Err      error     // last failure, nil after success
}

// Credential returns the masked key projection.
func (s State) Credential() model.Credential {
	return model.Credential{Masked: s.Masked, Provider: s.Provider}
}

// Vault holds the masked key for the current user.
type Vault struct {
	backend Backend
	tokens  TokenSource
	log     *zap.Logger

	gen    atomic.Uint64
	closed atomic.Bool

	mu    sync.Mutex
	state State
}

// New builds an empty Vault.
func New(b Backend, tokens TokenSource, log *zap.Logger) *Vault {
	return &Vault{backend: b, tokens: tokens, log: logging.OrNop(log)}
}

// State returns a copy of the current state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Close discards results of calls still in flight.
func (v *Vault) Close() { v.closed.Store(true) }

// Load fetches the stored masked key. No token, a failed call or a non-ok
// answer all mean "no key" and leave the state as it was.
func (v *Vault) Load(ctx context.Context) (model.Credential, bool) {
	// Reads don't advance the generation: a load never cancels a write.
	gen := v.gen.Load()

	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return model.Credential{}, false
	}
	kr, err := v.backend.GetAPIKey(ctx, token)
	if err != nil {
		v.log.Debug("load api key", zap.Error(err))
		return model.Credential{}, false
	}
	if kr.Status != api.StatusOK || kr.APIKey == "" {
		return model.Credential{}, false
	}

	next := State{Masked: kr.APIKey, Provider: DetectProvider(kr.APIKey), Status: MsgLoaded}
	if !v.apply(gen, next, false) {
		v.log.Debug("stale key load discarded")
	}
	return next.Credential(), true
}

// Save sends raw to the backend and adopts the masked echo. raw is not
// retained.
func (v *Vault) Save(ctx context.Context, raw string) State {
	gen := v.gen.Add(1)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return v.fail(gen, errs.Validation(MsgEmptyKey), MsgEmptyKey)
	}
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return v.fail(gen, errs.ErrNoSession, MsgSignInFirst)
	}

	masked, err := v.backend.SaveAPIKey(ctx, token, raw)
	if err != nil {
		ce := errs.Wrap(err)
		msg := MsgSaveFailed
		switch ce.Kind {
		case errs.KindCredentialRejected:
			msg = errs.MsgCredentialRejected
		case errs.KindQuotaExceeded:
			msg = errs.MsgQuotaExceeded
		}
		v.log.Info("save api key failed", zap.String("kind", ce.Kind.String()))
		return v.fail(gen, ce, msg)
	}

	next := State{Masked: masked, Provider: DetectProvider(masked), Status: MsgSaved}
	v.apply(gen, next, true)
	return next
}

// Delete removes the stored key.
func (v *Vault) Delete(ctx context.Context) State {
	gen := v.gen.Add(1)

	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return v.fail(gen, errs.ErrNoSession, MsgSignInFirst)
	}
	if err := v.backend.DeleteAPIKey(ctx, token); err != nil {
		v.log.Info("delete api key failed", zap.Error(err))
		return v.fail(gen, errs.Wrap(err), MsgDeleteFailed)
	}

	next := State{Status: MsgDeleted}
	v.apply(gen, next, true)
	return next
}

// fail keeps the current key and records the failure.
func (v *Vault) fail(gen uint64, err error, msg string) State {
	kind := errs.KindGeneric
	if ce := errs.Wrap(err); ce != nil {
		kind = ce.Kind
	}

	v.mu.Lock()
	next := v.state
	v.mu.Unlock()
	next.Status, next.Kind, next.Err = msg, kind, err

	v.apply(gen, next, true)
	return next
}

// apply stores s if no write started after gen was taken. A write that
// lands advances the generation so loads begun before it are discarded.
func (v *Vault) apply(gen uint64, s State, write bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed.Load() || gen != v.gen.Load() {
		return false
	}
	v.state = s
	if write {
		v.gen.Add(1)
	}
	return true
}

// Provider prefixes recognized in masked keys.
var (
	openAIPrefixes = []string{"sk-"}
	geminiPrefixes = []string{"ya29.", "AIza", "gcp-"}
)

// DetectProvider derives the provider family from a masked key.
func DetectProvider(masked string) model.Provider {
	switch {
	case masked == "":
		return model.ProviderNone
	case hasAnyPrefix(masked, openAIPrefixes):
		return model.ProviderOpenAI
	case hasAnyPrefix(masked, geminiPrefixes):
		return model.ProviderGemini
	default:
		return model.ProviderUnknown
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
