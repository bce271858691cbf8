package hostmux

import (
	"context"
	"net"
	"sync"
)

// resolverFunc adapts a function to the Resolver interface.
type resolverFunc func(ctx context.Context, host string) ([]net.IP, error)

func (f resolverFunc) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	return f(ctx, host)
}

// staticResolver resolves hosts from a fixed table; unknown hosts resolve to
// nothing.
func staticResolver(hosts map[string][]net.IP) Resolver {
	return resolverFunc(func(_ context.Context, host string) ([]net.IP, error) {
		return hosts[host], nil
	})
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeNetListener blocks in Accept until closed, so endpoints can be
// exercised without binding real sockets.
type fakeNetListener struct {
	addr   string
	closed chan struct{}
	once   sync.Once
}

func newFakeNetListener(addr string) *fakeNetListener {
	return &fakeNetListener{addr: addr, closed: make(chan struct{})}
}

func (f *fakeNetListener) Accept() (net.Conn, error) {
	<-f.closed
	return nil, net.ErrClosed
}

func (f *fakeNetListener) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeNetListener) Addr() net.Addr { return fakeAddr(f.addr) }

// fakeBinder vends fakeNetListeners, recording every address bound, and can
// be told to fail.
type fakeBinder struct {
	mu    sync.Mutex
	binds []string
	err   error
}

func (b *fakeBinder) bind(network, address string) (net.Listener, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.binds = append(b.binds, address)
	return newFakeNetListener(address), nil
}

func (b *fakeBinder) bindCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.binds)
}

// endpointCount reports how many endpoints the table currently holds.
func endpointCount(reg *Registry) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	n := 0
	for _, ports := range reg.table {
		n += len(ports)
	}
	return n
}

// endpointAt returns the live endpoint for (addr, port), or nil.
func endpointAt(reg *Registry, addr string, port int) *Endpoint {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.table[addr][port]
}

// addressCount reports how many distinct addresses the table currently holds.
func addressCount(reg *Registry) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.table)
}
