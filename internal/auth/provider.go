// Package auth defines the identity provider contract used by the session store.
package auth

import (
	"context"
	"net/url"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
)

// EventType names a provider-pushed session change.
type EventType string

// Session change events.
const (
	EventInitialSession   EventType = "INITIAL_SESSION"
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventTokenRefreshed   EventType = "TOKEN_REFRESHED"
	EventUserUpdated      EventType = "USER_UPDATED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
)

// Event carries the session as of the change; Session is nil after sign-out.
type Event struct {
	Type    EventType
	Session *model.Session
}

// Listener receives events in emission order. It must not block.
type Listener func(Event)

// Subscription is a registered listener.
type Subscription interface {
	Unsubscribe()
}

// Provider is the identity provider capability set.
type Provider interface {
	// GetSession returns the current session or nil when anonymous.
	GetSession(ctx context.Context) (*model.Session, error)
	// OnAuthStateChange registers l for all future events.
	OnAuthStateChange(l Listener) Subscription
	// SignInWithPassword authenticates and makes the session current.
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	// SignUp registers an account. The session is nil when email
	// confirmation is required; the confirmation link targets redirectTo.
	SignUp(ctx context.Context, email, password, redirectTo string) (*model.Session, error)
	// SessionFromURL extracts a session from an auth callback URL and,
	// when persist is set, makes it current.
	SessionFromURL(ctx context.Context, u *url.URL, persist bool) (*model.Session, error)
	// SignOut invalidates the session. Local state is cleared even when
	// the remote call fails.
	SignOut(ctx context.Context) error
}

// Error is a provider failure safe to show to the user.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Emitter fans events out to listeners. Emit calls are serialized so every
// listener observes the same order.
type Emitter struct {
	emitMu sync.Mutex

	mu        sync.RWMutex
	listeners map[uuid.UUID]Listener
	order     []uuid.UUID
}

type subscription struct {
	e  *Emitter
	id uuid.UUID
}

func (s subscription) Unsubscribe() { s.e.remove(s.id) }

// Subscribe registers l.
func (e *Emitter) Subscribe(l Listener) Subscription {
	id := uuid.Must(uuid.NewV4())
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[uuid.UUID]Listener)
	}
	e.listeners[id] = l
	e.order = append(e.order, id)
	e.mu.Unlock()
	return subscription{e: e, id: id}
}

func (e *Emitter) remove(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.listeners[id]; !ok {
		return
	}
	delete(e.listeners, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Emit delivers ev to every listener registered at the time of the call.
func (e *Emitter) Emit(ev Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.RLock()
	ls := make([]Listener, 0, len(e.order))
	for _, id := range e.order {
		ls = append(ls, e.listeners[id])
	}
	e.mu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}

// Len returns the number of listeners.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Unconfigured stands in when no identity provider is configured: the
// user stays anonymous and every sign-in path fails with
// errs.ErrNotConfigured.
type Unconfigured struct {
	Emitter
}

var _ Provider = (*Unconfigured)(nil)

func (*Unconfigured) GetSession(context.Context) (*model.Session, error) { return nil, nil }

func (u *Unconfigured) OnAuthStateChange(l Listener) Subscription { return u.Subscribe(l) }

func (*Unconfigured) SignInWithPassword(context.Context, string, string) (*model.Session, error) {
	return nil, errs.ErrNotConfigured
}

func (*Unconfigured) SignUp(context.Context, string, string, string) (*model.Session, error) {
	return nil, errs.ErrNotConfigured
}

func (*Unconfigured) SessionFromURL(context.Context, *url.URL, bool) (*model.Session, error) {
	return nil, errs.ErrNotConfigured
}

func (*Unconfigured) SignOut(context.Context) error { return nil }
