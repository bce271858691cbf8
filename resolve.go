package hostmux

import (
	"context"
	"fmt"
	"net"

	"github.com/monzo/terrors"
)

// A Resolver turns a host token into the addresses it resolves to. The
// default implementation wraps net.DefaultResolver; tests swap in fakes via
// WithResolver.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

type netResolver struct {
	r *net.Resolver
}

func (nr netResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := nr.r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// errNotSupported is the terror code for hosts that cannot be bound.
const errNotSupported = "not_supported"

// notSupportedSentinel is the numeric code carried in the error params,
// matching the ERROR_NOT_SUPPORTED value HttpListener-compatible callers
// expect for an unbindable host.
const notSupportedSentinel = "50"

func errUnbindableHost(host string) error {
	return terrors.New(errNotSupported,
		fmt.Sprintf("host %q cannot be bound", host), map[string]string{
			"code": notSupportedSentinel,
			"host": host,
		})
}

// resolveBindAddr applies the bind policy to a validated host token and
// returns the single concrete address to key the registry on.
//
// The wildcard tokens "*" and "+" are the only hosts permitted to bind the
// unspecified address. Every other token is resolved by name; only the first
// resolved address is considered, and a first address equal to the
// unspecified address is rejected rather than silently widened to all
// interfaces.
func resolveBindAddr(r Resolver, host string) (net.IP, error) {
	if host == "*" || host == "+" {
		return net.IPv4zero, nil
	}
	// Brackets delimit an IPv6 literal in the prefix grammar but are not
	// part of the name to look up
	lookup := trimBrackets(host)
	// Registration is deliberately blocking and non-cancellable, so the
	// lookup runs with a background context.
	ips, err := r.Resolve(context.Background(), lookup)
	if err != nil || len(ips) == 0 {
		return nil, errUnbindableHost(host)
	}
	if ips[0].IsUnspecified() {
		return nil, errUnbindableHost(host)
	}
	return ips[0], nil
}
