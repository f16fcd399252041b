// Package capability decides which AI models the current user can pick.
package capability

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/model"
)

// Model catalogs.
var (
	DefaultModels = []model.ModelCapability{
		{ID: model.ModelAuto, Label: "Auto Detect", Description: "Let the backend pick the best available model"},
	}
	GeminiModels = []model.ModelCapability{
		{ID: "gemini-pro-latest", Label: "Gemini Pro", Description: "Most capable Gemini model"},
		{ID: "gemini-flash-latest", Label: "Gemini Flash", Description: "Fast and cost-efficient"},
	}
	OpenAIModels = []model.ModelCapability{
		{ID: model.ModelAuto, Label: "Auto (OpenAI)", Description: "Best available OpenAI model"},
		{ID: "gpt-4", Label: "GPT-4", Description: "High quality reasoning"},
		{ID: "gpt-4o", Label: "GPT-4o", Description: "Fast multimodal flagship"},
		{ID: "gpt-4o-mini", Label: "GPT-4o mini", Description: "Fast and affordable"},
	}
)

// Fallback is the default-plus-Gemini list used whenever nothing better is known.
func Fallback() []model.ModelCapability {
	out := make([]model.ModelCapability, 0, len(DefaultModels)+len(GeminiModels))
	out = append(out, DefaultModels...)
	return append(out, GeminiModels...)
}

// ForProvider maps a provider name reported by the backend to a model list.
func ForProvider(provider string) []model.ModelCapability {
	if provider == string(model.ProviderOpenAI) {
		return append([]model.ModelCapability(nil), OpenAIModels...)
	}
	return Fallback()
}

// Prober asks the backend which provider the stored key belongs to.
type Prober interface {
	TestAPIKey(ctx context.Context, token string) (string, error)
}

// TokenSource yields a fresh access token, or false when anonymous.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Resolver holds the current model list. It always has a non-empty list.
type Resolver struct {
	prober Prober
	tokens TokenSource
	log    *zap.Logger

	gen     atomic.Uint64
	closed  atomic.Bool
	loading atomic.Bool

	mu       sync.RWMutex
	models   []model.ModelCapability
	provider string
}

// NewResolver starts with the fallback list.
func NewResolver(p Prober, tokens TokenSource, log *zap.Logger) *Resolver {
	return &Resolver{prober: p, tokens: tokens, log: logging.OrNop(log), models: Fallback()}
}

// Resolve probes the backend and returns the resulting list. It never
// fails; any error resolves to Fallback. A result superseded by a newer
// Resolve or arriving after Close is returned but not stored.
func (r *Resolver) Resolve(ctx context.Context) (models []model.ModelCapability) {
	gen := r.gen.Add(1)
	if !r.closed.Load() {
		r.loading.Store(true)
	}

	provider := ""
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("capability probe panicked", zap.Any("panic", rec))
			provider, models = "", Fallback()
		}
		r.apply(gen, provider, models)
	}()

	token, ok := r.tokens.AccessToken(ctx)
	if !ok {
		return Fallback()
	}
	p, err := r.prober.TestAPIKey(ctx, token)
	if err != nil {
		r.log.Debug("capability probe failed", zap.Error(err))
		return Fallback()
	}
	provider = strings.TrimSpace(p)
	return ForProvider(provider)
}

func (r *Resolver) apply(gen uint64, provider string, models []model.ModelCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		r.loading.Store(false)
		return
	}
	if gen != r.gen.Load() {
		return
	}
	r.models = models
	r.provider = provider
	r.loading.Store(false)
}

// Models returns a copy of the current list.
func (r *Resolver) Models() []model.ModelCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.ModelCapability(nil), r.models...)
}

// Provider returns the provider reported by the last applied probe.
func (r *Resolver) Provider() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider
}

// Loading reports whether the latest Resolve is still in flight.
func (r *Resolver) Loading() bool { return r.loading.Load() }

// Close stops state updates.
func (r *Resolver) Close() {
	r.closed.Store(true)
	r.loading.Store(false)
}

// Has reports whether id is in the current list.
func (r *Resolver) Has(id string) bool {
	for _, m := range r.Models() {
		if m.ID == id {
			return true
		}
	}
	return false
}
