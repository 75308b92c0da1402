package router

import "net"

// IpLease is a scoped ownership token for one allocated virtual address.
// Binding installs a route; Release (or garbage collection of a leaked
// lease is not relied upon — callers must call Release explicitly) removes
// it and frees the address. The back-reference to Router is what makes
// this a reference cycle once Bind has installed a sink into the routing
// table; Release is the only thing that breaks it.
type IpLease struct {
	router *Router
	addr   net.IP
}

// Address returns the virtual IPv4 address this lease owns.
func (l *IpLease) Address() net.IP {
	return l.addr
}

// Bind installs sink as the route for this lease's address, overwriting
// any stale entry left by a prior lease of the same address whose release
// has not yet completed.
func (l *IpLease) Bind(sink Sink) {
	l.router.bind(l.addr, sink)
}

// Release removes the route (closing its sink, best-effort) and frees the
// address back to the allocator. Release must not be called from a
// context that already holds a Router lock; callers that need
// fire-and-forget release from such a context should run it in its own
// goroutine, e.g. `go lease.Release()`.
func (l *IpLease) Release() {
	l.router.release(l.addr)
}
