// Package gotrue implements auth.Provider against a GoTrue (Supabase Auth) server.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/juniordebug/internal/auth"
	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/model"
)

// DefaultRefreshLeeway is how early a token is refreshed before it expires.
const DefaultRefreshLeeway = 60 * time.Second

// Storage persists the current session between runs.
type Storage interface {
	Load() (*model.Session, error)
	Save(s *model.Session) error
	Clear() error
}

// Config configures a Client.
type Config struct {
	URL           string // project URL, e.g. https://xyz.supabase.co
	AnonKey       string // public anon key
	HTTPClient    *http.Client
	Storage       Storage // nil keeps the session in memory only
	Logger        *zap.Logger
	RefreshLeeway time.Duration
	Now           func() time.Time
}

// Client talks to GoTrue and owns the persisted session.
type Client struct {
	base    *url.URL
	anonKey string
	http    *http.Client
	store   Storage
	log     *zap.Logger
	leeway  time.Duration
	now     func() time.Time

	events  auth.Emitter
	refresh singleflight.Group

	// writeMu orders session writes together with their events.
	writeMu sync.Mutex

	mu      sync.Mutex
	current *model.Session
	loaded  bool
}

var _ auth.Provider = (*Client)(nil)

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, fmt.Errorf("gotrue: url and anon key are required: %w", errs.ErrNotConfigured)
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gotrue: invalid url %q", cfg.URL)
	}
	c := &Client{
		base:    base,
		anonKey: cfg.AnonKey,
		http:    cfg.HTTPClient,
		store:   cfg.Storage,
		log:     logging.OrNop(cfg.Logger),
		leeway:  cfg.RefreshLeeway,
		now:     cfg.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.store == nil {
		c.store = &memoryStorage{}
	}
	if c.leeway <= 0 {
		c.leeway = DefaultRefreshLeeway
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Namespace identifies the project; used to bind the session file to it.
func (c *Client) Namespace() string { return c.base.Host }

// OnAuthStateChange registers l.
func (c *Client) OnAuthStateChange(l auth.Listener) auth.Subscription {
	return c.events.Subscribe(l)
}

// GetSession returns the current session, refreshing it when it is about to expire.
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	s := c.loadCurrent()
	if s == nil || !s.ExpiresWithin(c.now(), c.leeway) {
		return s, nil
	}
	if s.RefreshToken == "" {
		if s.ExpiresWithin(c.now(), 0) {
			c.setSession(nil, auth.EventSignedOut)
			return nil, nil
		}
		return s, nil
	}
	return c.refreshSession(ctx, s)
}

func (c *Client) refreshSession(ctx context.Context, s *model.Session) (*model.Session, error) {
	v, err, _ := c.refresh.Do(s.RefreshToken, func() (any, error) {
		// A caller that read s before the previous flight finished lands here late.
		if cur := c.loadCurrent(); cur == nil || cur.RefreshToken != s.RefreshToken {
			return cur, nil
		}
		ns, err := c.tokenRequest(ctx, "refresh_token", map[string]string{"refresh_token": s.RefreshToken})
		if err != nil {
			return nil, err
		}
		c.setSession(ns, auth.EventTokenRefreshed)
		return ns, nil
	})
	if err == nil {
		ns, _ := v.(*model.Session)
		return ns, nil
	}

	var ae *auth.Error
	if errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 {
		c.log.Info("refresh token rejected, signing out", zap.Int("status", ae.Status))
		c.setSession(nil, auth.EventSignedOut)
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if !s.ExpiresWithin(c.now(), 0) {
		c.log.Warn("refresh failed, keeping current token", zap.Error(err))
		return s, nil
	}
	return nil, fmt.Errorf("refresh session: %w", err)
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if email == "" || password == "" {
		return nil, &auth.Error{Status: http.StatusBadRequest, Message: "Email and password are required"}
	}
	s, err := c.tokenRequest(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	c.setSession(s, auth.EventSignedIn)
	return s, nil
}

// SignUp registers an account. With email confirmation enabled GoTrue
// returns only the user and the session is nil.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*model.Session, error) {
	if email == "" || password == "" {
		return nil, &auth.Error{Status: http.StatusBadRequest, Message: "Email and password are required"}
	}
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	var out signupResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", q, "", map[string]string{"email": email, "password": password}, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		c.log.Info("sign-up pending confirmation", zap.String("user_id", out.ID))
		return nil, nil
	}
	s := out.session(c.now())
	c.setSession(s, auth.EventSignedIn)
	return s, nil
}

// SessionFromURL reads tokens from the fragment (then the query) of an auth callback URL.
func (c *Client) SessionFromURL(ctx context.Context, u *url.URL, persist bool) (*model.Session, error) {
	p := CallbackParams(u)
	if desc := firstNonEmpty(p.Get("error_description"), p.Get("error")); desc != "" {
		return nil, &auth.Error{Code: firstNonEmpty(p.Get("error_code"), p.Get("error")), Message: desc}
	}
	at := p.Get("access_token")
	if at == "" {
		return nil, errs.ErrInvalidCallback
	}

	tr := tokenResponse{
		AccessToken:   at,
		RefreshToken:  p.Get("refresh_token"),
		TokenType:     p.Get("token_type"),
		ProviderToken: p.Get("provider_token"),
	}
	tr.ExpiresIn, _ = strconv.ParseInt(p.Get("expires_in"), 10, 64)
	tr.ExpiresAt, _ = strconv.ParseInt(p.Get("expires_at"), 10, 64)

	user, err := c.fetchUser(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	tr.User = user
	s := tr.session(c.now())

	if persist {
		ev := auth.EventSignedIn
		if p.Get("type") == "recovery" {
			ev = auth.EventPasswordRecovery
		}
		c.setSession(s, ev)
	}
	return s, nil
}

// SignOut revokes the session remotely and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	s := c.loadCurrent()
	var remoteErr error
	if s != nil {
		remoteErr = c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, s.AccessToken, nil, nil)
		if remoteErr != nil {
			c.log.Warn("remote sign-out failed", zap.Error(remoteErr))
		}
		c.setSession(nil, auth.EventSignedOut)
	}
	return remoteErr
}

// Resync reloads the stored session after another process changed it and
// emits the event describing the difference.
func (c *Client) Resync() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stored, err := c.store.Load()
	if err != nil {
		c.log.Warn("resync: load session", zap.Error(err))
		stored = nil
	}

	c.mu.Lock()
	prev := c.current
	c.current = stored
	c.loaded = true
	c.mu.Unlock()

	var ev auth.EventType
	switch {
	case prev == nil && stored == nil:
		return
	case stored == nil:
		ev = auth.EventSignedOut
	case prev == nil || prev.User.ID != stored.User.ID:
		ev = auth.EventSignedIn
	case prev.AccessToken != stored.AccessToken:
		ev = auth.EventTokenRefreshed
	case prev.User.Email != stored.User.Email || prev.User.AvatarURL != stored.User.AvatarURL:
		ev = auth.EventUserUpdated
	default:
		return
	}
	c.log.Debug("session changed externally", zap.String("event", string(ev)))
	c.events.Emit(auth.Event{Type: ev, Session: stored})
}

// TokenSource adapts GetSession to oauth2 so callers can build an
// authenticated *http.Client with oauth2.NewClient.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Client
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	s, err := ts.c.GetSession(ts.ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.ErrNoSession
	}
	return oauthToken(s), nil
}

func oauthToken(s *model.Session) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

func (c *Client) loadCurrent() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		s, err := c.store.Load()
		if err != nil {
			c.log.Warn("load stored session", zap.Error(err))
			s = nil
		}
		c.current = s
		c.loaded = true
	}
	return c.current
}

// setSession replaces the current session, persists it and emits ev.
func (c *Client) setSession(s *model.Session, ev auth.EventType) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.current = s
	c.loaded = true
	c.mu.Unlock()

	var err error
	if s == nil {
		err = c.store.Clear()
	} else {
		err = c.store.Save(s)
	}
	if err != nil {
		c.log.Warn("persist session", zap.Error(err))
	}
	c.events.Emit(auth.Event{Type: ev, Session: s})
}

func (c *Client) tokenRequest(ctx context.Context, grant string, body map[string]string) (*model.Session, error) {
	var out tokenResponse
	q := url.Values{"grant_type": {grant}}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &auth.Error{Status: http.StatusBadGateway, Message: "empty access token in response"}
	}
	return out.session(c.now()), nil
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (userResponse, error) {
	var u userResponse
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &u)
	if err == nil && u.ID == "" {
		err = errors.New("empty user id in response")
	}
	return u, err
}

// do sends a JSON request. bearer == "" authenticates with the anon key.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, bearer string, in, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}).SetAuthHeader(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("gotrue",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// memoryStorage keeps the session for the life of the process.
type memoryStorage struct {
	mu sync.Mutex
	s  *model.Session
}

func (m *memoryStorage) Load() (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *memoryStorage) Save(s *model.Session) error {
	m.mu.Lock()
	m.s = s
	m.mu.Unlock()
	return nil
}

func (m *memoryStorage) Clear() error { return m.Save(nil) }

// tokenExpiry reads the exp claim without verifying the signature; the
// provider already vouched for the token.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
