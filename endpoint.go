package hostmux

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/monzo/slog"
	"github.com/monzo/terrors"
)

// An Endpoint is one bound socket serving every prefix that resolves to its
// (address, port) pair, across however many listeners registered them. The
// registry owns an Endpoint's existence; the Endpoint owns its socket and
// the prefix→listener associations, which it guards with its own lock,
// disjoint from the registry's.
type Endpoint struct {
	addr   net.IP
	port   int
	secure bool

	registry *Registry
	nl       net.Listener
	srv      *http.Server

	mu       sync.RWMutex
	prefixes map[string]association
}

type association struct {
	prefix   Prefix
	listener *Listener
}

func newEndpoint(reg *Registry, addr net.IP, port int, secure bool, bind BindFunc) (*Endpoint, error) {
	nl, err := bind("tcp", net.JoinHostPort(addr.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{
		addr:     addr,
		port:     port,
		secure:   secure,
		registry: reg,
		nl:       nl,
		prefixes: make(map[string]association),
	}
	ep.srv = &http.Server{
		Handler:        http.HandlerFunc(ep.serveHTTP),
		MaxHeaderBytes: http.DefaultMaxHeaderBytes,
	}
	go func() {
		err := ep.srv.Serve(nl)
		if err != nil && err != http.ErrServerClosed {
			slog.Error(nil, "Endpoint %v accept loop failed: %v", ep.hostport(), err)
			reg.RemoveEndpoint(ep, addr, port)
		}
	}()
	return ep, nil
}

// Addr returns the address the endpoint's socket is bound to.
func (ep *Endpoint) Addr() net.Addr {
	return ep.nl.Addr()
}

// AddPrefix associates p with l. A prefix can be claimed at most once per
// endpoint: a second listener claiming an identical prefix is a conflict,
// while the same listener re-adding its own prefix is a no-op. Prefixes of
// both schemes cannot share one endpoint.
func (ep *Endpoint) AddPrefix(p Prefix, l *Listener) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if p.Secure != ep.secure {
		return terrors.PreconditionFailed("scheme_mismatch",
			fmt.Sprintf("endpoint %v is already bound with secure=%t", ep.hostport(), ep.secure), nil)
	}
	key := p.String()
	if existing, ok := ep.prefixes[key]; ok {
		if existing.listener == l {
			return nil
		}
		return terrors.PreconditionFailed("prefix_conflict",
			fmt.Sprintf("prefix %v is already registered by another listener", key), nil)
	}
	ep.prefixes[key] = association{prefix: p, listener: l}
	return nil
}

// RemovePrefix drops l's association for p, if present, and reports whether
// the endpoint now holds no associations at all. The caller is responsible
// for retiring an empty endpoint from the registry table.
func (ep *Endpoint) RemovePrefix(p Prefix, l *Listener) (empty bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	key := p.String()
	if a, ok := ep.prefixes[key]; ok && a.listener == l {
		delete(ep.prefixes, key)
	}
	return len(ep.prefixes) == 0
}

// Close shuts the accept loop and every connection it produced. The registry
// calls this under its table lock as the final step of removal.
func (ep *Endpoint) Close() {
	if err := ep.srv.Close(); err != nil {
		slog.Warn(nil, "Endpoint %v close failed: %v", ep.hostport(), err)
	}
}

func (ep *Endpoint) hostport() string {
	return net.JoinHostPort(ep.addr.String(), strconv.Itoa(ep.port))
}

func (ep *Endpoint) serveHTTP(rw http.ResponseWriter, req *http.Request) {
	l := ep.match(req)
	if l == nil {
		terr := terrors.NotFound("no_prefix",
			fmt.Sprintf("no prefix registered for %v", req.URL.Path), nil)
		http.Error(rw, terr.Error(), ErrorStatusCode(terr))
		return
	}
	l.serveHTTP(rw, req)
}

// match finds the listener with the best claim on req: an exact host match
// beats a wildcard host, and within the same host class the longest path
// prefix wins.
func (ep *Endpoint) match(req *http.Request) *Listener {
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	path := req.URL.Path

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	var best *Listener
	bestLen := -1
	bestExact := false
	for _, a := range ep.prefixes {
		exact := a.prefix.Host != "*" && a.prefix.Host != "+"
		if exact && !hostEqual(a.prefix.Host, host) {
			continue
		}
		if !strings.HasPrefix(path, a.prefix.Path) {
			continue
		}
		if (exact && !bestExact) || (exact == bestExact && len(a.prefix.Path) > bestLen) {
			best = a.listener
			bestLen = len(a.prefix.Path)
			bestExact = exact
		}
	}
	return best
}

// hostEqual compares a prefix host token against a request host, ignoring
// case and the brackets around an IPv6 literal. net.SplitHostPort strips the
// brackets from a request host carrying a port but leaves them on one
// without, so both sides are unbracketed before comparing.
func hostEqual(prefixHost, reqHost string) bool {
	return strings.EqualFold(trimBrackets(prefixHost), trimBrackets(reqHost))
}
