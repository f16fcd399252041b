// Package session owns the current authentication session. The Store is
// the single writer of the Session/User pair; everything else reads it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/auth"
	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/model"
	"github.com/and161185/juniordebug/internal/nav"
)

// User-facing sign-up messages.
const (
	MsgPasswordMismatch = "Passwords do not match"
	MsgConfirmEmailSent = "Confirmation email sent. Please click the link in your email to confirm your account."
)

// Change is delivered to observers after each applied event.
type Change struct {
	Event   auth.EventType
	Session *model.Session
}

// Result reports a sign-in or sign-up attempt without failing the caller.
type Result struct {
	OK      bool
	Kind    errs.Kind
	Message string
	Session *model.Session
}

type snapshot struct {
	session *model.Session
}

// Store mirrors the provider's session. Reads are lock-free and never see a
// half-applied event.
type Store struct {
	provider auth.Provider
	nav      nav.Navigator
	fallback nav.Navigator
	frontend string
	log      *zap.Logger

	cur atomic.Pointer[snapshot]

	// applyMu orders event application against the bootstrap read.
	applyMu sync.Mutex
	seq     uint64

	mu        sync.Mutex
	sub       auth.Subscription
	started   bool
	observers map[uuid.UUID]chan Change
}

// New builds an anonymous Store. fallback is used when navigating through
// n fails and may be nil.
func New(p auth.Provider, n, fallback nav.Navigator, frontendOrigin string, log *zap.Logger) *Store {
	s := &Store{
		provider:  p,
		nav:       n,
		fallback:  fallback,
		frontend:  frontendOrigin,
		log:       logging.OrNop(log),
		observers: make(map[uuid.UUID]chan Change),
	}
	s.cur.Store(&snapshot{})
	return s
}

// Start subscribes to the provider and reads the initial session. A failed
// read leaves the store anonymous. Start is idempotent.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.sub = s.provider.OnAuthStateChange(s.onEvent)
	s.mu.Unlock()

	s.applyMu.Lock()
	seq := s.seq
	s.applyMu.Unlock()

	sess, err := s.provider.GetSession(ctx)
	if err != nil {
		s.log.Warn("initial session read failed", zap.Error(err))
		sess = nil
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if s.seq != seq {
		// An event landed while the read was in flight and is newer.
		return nil
	}
	s.storeLocked(auth.EventInitialSession, sess)
	return nil
}

// Stop drops the provider subscription and closes observer channels.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	for id, ch := range s.observers {
		close(ch)
		delete(s.observers, id)
	}
}

// Session returns the current session or nil.
func (s *Store) Session() *model.Session { return s.cur.Load().session }

// User returns a copy of the current user or nil when anonymous.
func (s *Store) User() *model.User {
	sess := s.Session()
	if sess == nil {
		return nil
	}
	u := sess.User
	return &u
}

// GetSession asks the provider for the latest session, refreshing it when needed.
func (s *Store) GetSession(ctx context.Context) (*model.Session, error) {
	sess, err := s.provider.GetSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// AccessToken returns a fresh token, or "", false when anonymous or when
// the provider cannot produce one.
func (s *Store) AccessToken(ctx context.Context) (string, bool) {
	sess, err := s.provider.GetSession(ctx)
	if err != nil {
		s.log.Debug("access token unavailable", zap.Error(err))
		return "", false
	}
	if sess == nil || sess.AccessToken == "" {
		return "", false
	}
	return sess.AccessToken, true
}

// SignIn authenticates with email and password.
func (s *Store) SignIn(ctx context.Context, email, password string) Result {
	sess, err := s.provider.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return failure(err)
	}
	return Result{OK: true, Session: sess}
}

// SignUp registers an account. The confirmation link targets the frontend
// origin when configured, else the current origin.
func (s *Store) SignUp(ctx context.Context, email, password, confirm string) Result {
	if password != confirm {
		return Result{Kind: errs.KindValidation, Message: MsgPasswordMismatch}
	}
	redirect := nav.LandingURL(s.frontend, s.location()).String()
	sess, err := s.provider.SignUp(ctx, strings.TrimSpace(email), password, redirect)
	if err != nil {
		return failure(err)
	}
	if sess == nil {
		return Result{OK: true, Message: MsgConfirmEmailSent}
	}
	return Result{OK: true, Session: sess}
}

// SignOut invalidates the session and navigates to the landing route even
// when the provider call fails. It is safe to call repeatedly.
func (s *Store) SignOut(ctx context.Context) error {
	err := s.provider.SignOut(ctx)
	if err != nil {
		s.log.Warn("provider sign-out failed", zap.Error(err))
	}
	s.forceLanding()
	return err
}

// Subscribe returns a channel of applied changes and a cancel func. Slow
// observers miss changes rather than block the provider.
func (s *Store) Subscribe() (<-chan Change, func()) {
	id := uuid.Must(uuid.NewV4())
	ch := make(chan Change, 16)

	s.mu.Lock()
	s.observers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.observers[id]; ok {
			close(c)
			delete(s.observers, id)
		}
	}
}

func (s *Store) onEvent(ev auth.Event) {
	sess := ev.Session
	if ev.Type == auth.EventSignedOut {
		sess = nil
	}

	s.applyMu.Lock()
	s.seq++
	s.storeLocked(ev.Type, sess)
	s.applyMu.Unlock()

	s.log.Debug("auth event applied", zap.String("event", string(ev.Type)))
	if ev.Type == auth.EventSignedOut {
		s.forceLanding()
	}
}

func (s *Store) storeLocked(ev auth.EventType, sess *model.Session) {
	s.cur.Store(&snapshot{session: sess})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.observers {
		select {
		case ch <- Change{Event: ev, Session: sess}:
		default:
			s.log.Debug("observer lagging, change dropped", zap.String("event", string(ev)))
		}
	}
}

func (s *Store) location() *url.URL {
	if s.nav == nil {
		return nil
	}
	return s.nav.Location()
}

// forceLanding must complete: primary navigation errors and panics fall
// through to the fallback navigator.
func (s *Store) forceLanding() {
	target := nav.LandingURL(s.frontend, s.location())
	err := replace(s.nav, target)
	if err == nil {
		return
	}
	s.log.Warn("landing navigation failed, using fallback", zap.Error(err))
	if ferr := replace(s.fallback, target); ferr != nil {
		s.log.Error("fallback landing navigation failed", zap.Error(ferr))
	}
}

func replace(n nav.Navigator, u *url.URL) (err error) {
	if n == nil {
		return errors.New("no navigator")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("navigator panic: %v", r)
		}
	}()
	return n.Replace(u)
}

func failure(err error) Result {
	var ae *auth.Error
	if errors.As(err, &ae) {
		return Result{Kind: errs.KindGeneric, Message: ae.Message}
	}
	if errors.Is(err, errs.ErrNotConfigured) {
		return Result{Kind: errs.KindGeneric, Message: "Authentication is not configured"}
	}
	return Result{Kind: errs.KindGeneric, Message: err.Error()}
}
