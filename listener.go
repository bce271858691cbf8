package hostmux

import (
	"fmt"
	"net/http"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/monzo/terrors"
)

// A Listener is one logical HTTP server: an ordered set of prefixes and the
// handler that serves requests matching them. Many listeners can share one
// Endpoint; listener identity (pointer equality) disambiguates their
// associations on it.
//
// Prefixes are only checked when they are registered, so an inactive
// listener may hold strings that will fail at Start.
type Listener struct {
	registry *Registry
	handler  http.Handler

	mu      sync.Mutex
	ordered []string
	members mapset.Set
	active  bool
}

// NewListener vends an inactive Listener that will register against reg.
// A nil handler answers every matched request with 404.
func NewListener(reg *Registry, h http.Handler) *Listener {
	return &Listener{
		registry: reg,
		handler:  h,
		members:  mapset.NewSet(),
	}
}

// AddPrefix declares raw on the listener. While the listener is active the
// prefix is also registered immediately; a registration failure undoes the
// declaration.
func (l *Listener) AddPrefix(raw string) error {
	l.mu.Lock()
	if !l.members.Add(raw) {
		l.mu.Unlock()
		return terrors.PreconditionFailed("duplicate_prefix",
			fmt.Sprintf("prefix %q is already declared", raw), nil)
	}
	l.ordered = append(l.ordered, raw)
	active := l.active
	l.mu.Unlock()

	if active {
		if err := l.registry.RegisterPrefix(raw, l); err != nil {
			l.forget(raw)
			return err
		}
	}
	return nil
}

// RemovePrefix withdraws raw from the listener. Removing a prefix that was
// never declared is a no-op.
func (l *Listener) RemovePrefix(raw string) error {
	l.mu.Lock()
	if !l.members.Contains(raw) {
		l.mu.Unlock()
		return nil
	}
	active := l.active
	l.mu.Unlock()
	l.forget(raw)

	if active {
		return l.registry.UnregisterPrefix(raw, l)
	}
	return nil
}

// Start transitions the listener to active, registering every declared
// prefix as one transaction. On failure the listener stays inactive and the
// registry is left untouched.
func (l *Listener) Start() error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.registry.RegisterAll(l); err != nil {
		return err
	}
	l.mu.Lock()
	l.active = true
	l.mu.Unlock()
	return nil
}

// Stop transitions the listener to inactive and withdraws all of its
// prefixes. Declared prefixes survive a Stop and are re-registered by the
// next Start.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return nil
	}
	l.active = false
	l.mu.Unlock()
	return l.registry.UnregisterAll(l)
}

// Prefixes returns the declared prefixes in declaration order.
func (l *Listener) Prefixes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ordered))
	copy(out, l.ordered)
	return out
}

func (l *Listener) forget(raw string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members.Remove(raw)
	for i, s := range l.ordered {
		if s == raw {
			l.ordered = append(l.ordered[:i], l.ordered[i+1:]...)
			break
		}
	}
}

func (l *Listener) serveHTTP(rw http.ResponseWriter, req *http.Request) {
	h := l.handler
	if h == nil {
		h = http.NotFoundHandler()
	}
	h.ServeHTTP(rw, req)
}
