// Package redirect completes magic-link and OAuth returns carried in the
// current location before the rest of the client starts.
package redirect

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/auth"
	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/nav"
)

// Markers are the parameters that identify an auth callback.
var Markers = []string{"access_token", "refresh_token", "provider_token", "type"}

// Handler inspects the location once at boot.
type Handler struct {
	provider auth.Provider
	nav      nav.Navigator
	frontend string
	log      *zap.Logger
}

// NewHandler builds a Handler. frontendOrigin may be empty.
func NewHandler(p auth.Provider, n nav.Navigator, frontendOrigin string, log *zap.Logger) *Handler {
	return &Handler{provider: p, nav: n, frontend: frontendOrigin, log: logging.OrNop(log)}
}

// IsCallback reports whether u carries any auth marker in its fragment or query.
func IsCallback(u *url.URL) bool {
	if u == nil {
		return false
	}
	frag, _ := url.ParseQuery(u.Fragment)
	q := u.Query()
	for _, m := range Markers {
		if frag.Has(m) || q.Has(m) {
			return true
		}
	}
	return false
}

// Handle processes an auth callback in the current location. It reports
// whether the callback branch was taken; it never fails the caller.
func (h *Handler) Handle(ctx context.Context) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("auth redirect panicked", zap.Any("panic", r))
		}
	}()

	cur := h.nav.Location()
	if !IsCallback(cur) {
		return false
	}
	handled = true

	if _, err := h.provider.SessionFromURL(ctx, cur, true); err != nil {
		h.log.Warn("auth callback not accepted", zap.Error(err))
	} else {
		h.log.Info("auth callback accepted")
	}

	clean := nav.StripSecrets(cur)
	if err := h.nav.ReplaceState(clean); err != nil {
		h.log.Error("strip callback secrets", zap.Error(err))
	}

	if cur.Path != nav.Landing && cur.Path != "" {
		if err := h.nav.Replace(nav.LandingURL(h.frontend, cur)); err != nil {
			h.log.Error("navigate to landing", zap.Error(fmt.Errorf("replace: %w", err)))
		}
	}
	return handled
}
