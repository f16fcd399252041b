// Package app wires the client core: configuration, identity provider,
// session store, backend client and the components that depend on them.
package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/juniordebug/internal/analyze"
	"github.com/and161185/juniordebug/internal/api"
	"github.com/and161185/juniordebug/internal/auth"
	"github.com/and161185/juniordebug/internal/auth/gotrue"
	"github.com/and161185/juniordebug/internal/capability"
	"github.com/and161185/juniordebug/internal/config"
	"github.com/and161185/juniordebug/internal/limiter"
	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/model"
	"github.com/and161185/juniordebug/internal/nav"
	"github.com/and161185/juniordebug/internal/redirect"
	"github.com/and161185/juniordebug/internal/session"
	"github.com/and161185/juniordebug/internal/sessionfile"
	"github.com/and161185/juniordebug/internal/vault"
)

// Options adjust wiring for a single run.
type Options struct {
	// Location is the starting location. An auth callback URL here is
	// completed by Start. Defaults to the frontend origin.
	Location *url.URL
	// Watch follows session changes written by other processes.
	Watch bool
	// HTTPClient is shared by the identity and backend clients.
	HTTPClient *http.Client
	// Navigator is an embedding UI's router. When set, History becomes
	// its fallback for the forced landing after sign-out.
	Navigator nav.Navigator
}

// App is the wired client.
type App struct {
	Config   *config.Config
	Log      *zap.Logger
	History  *nav.History
	Nav      nav.Navigator
	Provider auth.Provider
	Session  *session.Store
	Redirect *redirect.Handler
	Backend  *api.Client
	Vault    *vault.Vault
	Models   *capability.Resolver
	Analyzer *analyze.Orchestrator

	watcher *sessionfile.Watcher

	closeOnce sync.Once
}

// New builds the client from cfg. Nothing touches the network until Start.
func New(cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	log = logging.OrNop(log)

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	loc := opts.Location
	if loc == nil {
		u, err := url.Parse(cfg.Origin() + nav.Landing)
		if err != nil {
			return nil, fmt.Errorf("frontend origin: %w", err)
		}
		loc = u
	}

	a := &App{Config: cfg, Log: log, History: nav.NewHistory(loc)}
	var fallback nav.Navigator
	if opts.Navigator != nil {
		a.Nav, fallback = opts.Navigator, a.History
	} else {
		a.Nav, fallback = a.History, &logNavigator{log: log.Named("nav"), loc: loc}
	}

	if cfg.AuthConfigured() {
		au, err := url.Parse(cfg.AuthURL)
		if err != nil {
			return nil, fmt.Errorf("auth url: %w", err)
		}
		file := sessionfile.New(cfg.Dir, au.Host)
		gt, err := gotrue.New(gotrue.Config{
			URL:        cfg.AuthURL,
			AnonKey:    cfg.AuthAnonKey,
			HTTPClient: hc,
			Storage:    file,
			Logger:     log.Named("gotrue"),
		})
		if err != nil {
			return nil, err
		}
		a.Provider = gt
		if opts.Watch {
			a.watcher = sessionfile.NewWatcher(file, 0, log.Named("sessionfile"), gt.Resync)
		}
	} else {
		log.Debug("identity provider not configured, staying anonymous")
		a.Provider = &auth.Unconfigured{}
	}

	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}
	backend, err := api.New(cfg.BackendURL, hc, limiter.New(cfg.RateLimit, burst), log.Named("api"))
	if err != nil {
		return nil, err
	}
	a.Backend = backend

	a.Session = session.New(a.Provider, a.Nav, fallback, cfg.FrontendURL, log.Named("session"))
	a.Redirect = redirect.NewHandler(a.Provider, a.Nav, cfg.FrontendURL, log.Named("redirect"))
	a.Vault = vault.New(backend, a.Session, log.Named("vault"))
	a.Models = capability.NewResolver(backend, a.Session, log.Named("capability"))
	a.Analyzer = analyze.New(backend, a.Session, log.Named("analyze"))
	return a, nil
}

// Start completes a pending auth callback, then reads the session and
// subscribes to changes.
func (a *App) Start(ctx context.Context) error {
	if a.Redirect.Handle(ctx) {
		a.Log.Debug("auth callback handled", zap.String("location", a.Nav.Location().String()))
	}
	if err := a.Session.Start(ctx); err != nil {
		return err
	}
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return fmt.Errorf("watch session: %w", err)
		}
	}
	return nil
}

// Snapshot is the state a status view renders.
type Snapshot struct {
	User       *model.User             `json:"user"`
	Credential model.Credential        `json:"credential"`
	HasKey     bool                    `json:"has_key"`
	Provider   string                  `json:"provider,omitempty"`
	Models     []model.ModelCapability `json:"models"`
}

// Refresh loads the stored key and probes the model catalog concurrently.
// Both probes fail open; the error is only the context's, in which case the
// snapshot is partial.
func (a *App) Refresh(ctx context.Context) (Snapshot, error) {
	var (
		cred   model.Credential
		hasKey bool
		models []model.ModelCapability
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cred, hasKey = a.Vault.Load(gctx)
		if err := gctx.Err(); err != nil {
			return fmt.Errorf("load key: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		models = a.Models.Resolve(gctx)
		if err := gctx.Err(); err != nil {
			return fmt.Errorf("resolve models: %w", err)
		}
		return nil
	})
	err := g.Wait()

	return Snapshot{
		User:       a.Session.User(),
		Credential: cred,
		HasKey:     hasKey,
		Provider:   a.Models.Provider(),
		Models:     models,
	}, err
}

// Close stops background work and discards in-flight results.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		a.Vault.Close()
		a.Models.Close()
		a.Session.Stop()
	})
}
