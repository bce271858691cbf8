// Package hostmux maps URL prefixes declared by logical listeners onto a
// process-wide table of bound network endpoints, one endpoint per distinct
// (address, port) pair. Endpoints are created lazily when the first prefix
// for their key is registered, shared by every prefix that resolves to the
// same key, and torn down the moment their last prefix is removed.
package hostmux

import (
	"net"
	"strconv"
	"sync"

	"github.com/monzo/slog"
	"github.com/monzo/terrors"
)

// BindFunc opens the socket for a new endpoint. net.Listen is the default;
// tests substitute in-memory listeners via WithBind.
type BindFunc func(network, address string) (net.Listener, error)

// Registry is the table of live endpoints, keyed by address then port. All
// table reads and writes happen under one mutex; address resolution, socket
// binding and endpoint close also run under it, so one slow registration
// blocks every other registry caller. That is the intended trade: the table
// is always observed in a fully consistent state.
//
// A Registry is constructed explicitly and passed to every call site; there
// is no package-level instance.
type Registry struct {
	mu    sync.Mutex
	table map[string]map[int]*Endpoint

	resolver Resolver
	bind     BindFunc
}

// RegistryOption customises a Registry at construction.
type RegistryOption func(*Registry)

// WithResolver replaces the name resolution service.
func WithResolver(r Resolver) RegistryOption {
	return func(reg *Registry) { reg.resolver = r }
}

// WithBind replaces the socket bind function.
func WithBind(bind BindFunc) RegistryOption {
	return func(reg *Registry) { reg.bind = bind }
}

// NewRegistry vends an empty Registry backed by the default resolver and
// net.Listen.
func NewRegistry(opts ...RegistryOption) *Registry {
	reg := &Registry{
		table:    make(map[string]map[int]*Endpoint),
		resolver: netResolver{net.DefaultResolver},
		bind:     net.Listen,
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// RegisterPrefix parses, validates and registers a single prefix for l.
// Validation errors, resolution policy errors, bind errors and conflicting
// claims from other listeners are all returned unchanged; none are retried.
func (reg *Registry) RegisterPrefix(raw string, l *Listener) error {
	p, err := ParsePrefix(raw)
	if err != nil {
		return err
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.registerLocked(p, l)
}

// RegisterAll registers every prefix declared on l, in declared order, as a
// single transaction under one lock acquisition. If any prefix fails, the
// ones registered earlier in the same call are unregistered again
// (best-effort; a rollback failure is logged and swallowed) and the original
// error is returned. No partial registration is visible once RegisterAll
// returns.
func (reg *Registry) RegisterAll(l *Listener) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var done []Prefix
	for _, raw := range l.Prefixes() {
		p, err := ParsePrefix(raw)
		if err == nil {
			err = reg.registerLocked(p, l)
		}
		if err != nil {
			for _, q := range done {
				if rerr := reg.unregisterLocked(q, l); rerr != nil {
					slog.Error(nil, "Rollback of prefix %v failed: %v", q, rerr)
				}
			}
			return err
		}
		done = append(done, p)
	}
	return nil
}

// pathNeverAddable reports whether err is one of the two path rejections (a
// "%" escape or a doubled slash) marking a prefix string that could never
// have passed registration. Removing such a prefix is a no-op, not an error;
// every other rejection surfaces on the removal path just as it does on the
// registration path.
func pathNeverAddable(err error) bool {
	return terrors.PrefixMatches(err, terrors.ErrBadRequest, "invalid_path", "percent") ||
		terrors.PrefixMatches(err, terrors.ErrBadRequest, "invalid_path", "double_slash")
}

// UnregisterPrefix removes l's registration of the given prefix. A prefix
// whose path could never have passed registration is silently ignored.
func (reg *Registry) UnregisterPrefix(raw string, l *Listener) error {
	p, err := ParsePrefix(raw)
	if pathNeverAddable(err) {
		return nil
	}
	if err != nil {
		return err
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.unregisterLocked(p, l)
}

// UnregisterAll removes every prefix declared on l, under one lock
// acquisition, tolerating individual no-ops. The first real failure is
// returned after the walk completes.
func (reg *Registry) UnregisterAll(l *Listener) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var first error
	for _, raw := range l.Prefixes() {
		p, err := ParsePrefix(raw)
		if pathNeverAddable(err) {
			continue
		}
		if err == nil {
			err = reg.unregisterLocked(p, l)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RemoveEndpoint retires ep from the table and closes it. This is the
// endpoint collaborator's own entry point, used when its accept loop dies;
// removal driven by prefix bookkeeping happens inline on the unregister
// path. Closing happens while still holding the table lock, so no caller
// ever observes a half-removed entry.
func (reg *Registry) RemoveEndpoint(ep *Endpoint, addr net.IP, port int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.removeLocked(ep, addr.String(), port)
}

func (reg *Registry) registerLocked(p Prefix, l *Listener) error {
	addr, err := resolveBindAddr(reg.resolver, p.Host)
	if err != nil {
		return err
	}
	ep, err := reg.endpointLocked(addr, p.Port, p.Secure)
	if err != nil {
		return err
	}
	return ep.AddPrefix(p, l)
}

func (reg *Registry) unregisterLocked(p Prefix, l *Listener) error {
	addr, err := resolveBindAddr(reg.resolver, p.Host)
	if err != nil {
		return err
	}
	// The lookup mirrors registration: a redundant unregister may create an
	// endpoint that never had this prefix, which then reports itself empty
	// and is retired straight away.
	ep, err := reg.endpointLocked(addr, p.Port, p.Secure)
	if err != nil {
		return err
	}
	if empty := ep.RemovePrefix(p, l); empty {
		reg.removeLocked(ep, addr.String(), p.Port)
	}
	return nil
}

// endpointLocked finds or creates the endpoint for (addr, port). Endpoints
// are shared across listeners: whichever listener first triggered creation
// has no special claim on the result.
func (reg *Registry) endpointLocked(addr net.IP, port int, secure bool) (*Endpoint, error) {
	key := addr.String()
	ports, ok := reg.table[key]
	if !ok {
		ports = make(map[int]*Endpoint)
		reg.table[key] = ports
	}
	if ep, ok := ports[port]; ok {
		return ep, nil
	}
	ep, err := newEndpoint(reg, addr, port, secure, reg.bind)
	if err != nil {
		if len(ports) == 0 {
			delete(reg.table, key)
		}
		return nil, terrors.WrapWithCode(err, map[string]string{
			"address": net.JoinHostPort(key, strconv.Itoa(port)),
		}, "socket")
	}
	ports[port] = ep
	return ep, nil
}

func (reg *Registry) removeLocked(ep *Endpoint, key string, port int) {
	ports, ok := reg.table[key]
	if !ok || ports[port] != ep {
		return
	}
	delete(ports, port)
	if len(ports) == 0 {
		delete(reg.table, key)
	}
	ep.Close()
}
