package app

import (
	"errors"
	"net/url"
	"sync"

	"go.uber.org/zap"
)

// logNavigator is the last-resort landing target for a headless client:
// it records the location and reports it in the log.
type logNavigator struct {
	log *zap.Logger

	mu  sync.Mutex
	loc *url.URL
}

func (n *logNavigator) Location() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := *n.loc
	return &c
}

func (n *logNavigator) ReplaceState(u *url.URL) error {
	if u == nil {
		return errors.New("nav: nil url")
	}
	c := *u
	n.mu.Lock()
	n.loc = &c
	n.mu.Unlock()
	return nil
}

func (n *logNavigator) Replace(u *url.URL) error {
	if err := n.ReplaceState(u); err != nil {
		return err
	}
	n.log.Info("navigated", zap.String("location", u.String()))
	return nil
}
