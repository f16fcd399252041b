// Package nav abstracts the navigation surface the auth flow acts on:
// the current location, rewriting it in place and replacing it.
package nav

import (
	"errors"
	"net/url"
	"sync"
)

// Landing is the canonical landing route.
const Landing = "/"

// Navigator is the routing collaborator.
type Navigator interface {
	// Location returns a copy of the current location.
	Location() *url.URL
	// ReplaceState rewrites the current entry without navigating.
	ReplaceState(u *url.URL) error
	// Replace navigates to u, replacing the current entry.
	Replace(u *url.URL) error
}

// History is an in-memory Navigator. It keeps every entry so callers can
// check that nothing sensitive stayed in it.
type History struct {
	mu      sync.Mutex
	entries []*url.URL
}

// NewHistory starts a history at start.
func NewHistory(start *url.URL) *History {
	return &History{entries: []*url.URL{clone(start)}}
}

// Location returns the current entry.
func (h *History) Location() *url.URL {
	h.mu.Lock()
	defer h.mu.Unlock()
	return clone(h.entries[len(h.entries)-1])
}

// ReplaceState overwrites the current entry.
func (h *History) ReplaceState(u *url.URL) error {
	if u == nil {
		return errors.New("nav: nil url")
	}
	h.mu.Lock()
	h.entries[len(h.entries)-1] = clone(u)
	h.mu.Unlock()
	return nil
}

// Replace overwrites the current entry; in-memory there is no page load to
// distinguish it from ReplaceState.
func (h *History) Replace(u *url.URL) error {
	return h.ReplaceState(u)
}

// Push appends a new entry.
func (h *History) Push(u *url.URL) {
	h.mu.Lock()
	h.entries = append(h.entries, clone(u))
	h.mu.Unlock()
}

// Entries returns copies of all entries, oldest first.
func (h *History) Entries() []*url.URL {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*url.URL, len(h.entries))
	for i, u := range h.entries {
		out[i] = clone(u)
	}
	return out
}

// StripSecrets drops query and fragment, keeping scheme, host and path.
func StripSecrets(u *url.URL) *url.URL {
	c := clone(u)
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	return c
}

// LandingURL resolves the landing route against frontendOrigin when it
// parses as an absolute URL, else against the origin of current.
func LandingURL(frontendOrigin string, current *url.URL) *url.URL {
	if frontendOrigin != "" {
		if base, err := url.Parse(frontendOrigin); err == nil && base.Scheme != "" && base.Host != "" {
			return &url.URL{Scheme: base.Scheme, Host: base.Host, Path: Landing}
		}
	}
	out := &url.URL{Path: Landing}
	if current != nil {
		out.Scheme = current.Scheme
		out.Host = current.Host
	}
	return out
}

// Origin returns scheme://host of u.
func Origin(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}

func clone(u *url.URL) *url.URL {
	if u == nil {
		return &url.URL{Path: Landing}
	}
	c := *u
	if u.User != nil {
		ui := *u.User
		c.User = &ui
	}
	return &c
}
