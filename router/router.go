// Package router implements the server-side packet plane: address leasing
// over an ipmanager.Manager, a routing table from virtual IPv4 to client
// sink, and the single TUN-ingress goroutine that arbitrates concurrent
// access to the local TUN device.
package router

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"tunserve/ipmanager"
	"tunserve/metrics"
	"tunserve/tundev"
)

// Sink is a client packet destination, such as another client's TLS
// session. The router stores sinks behind this narrow interface so it can
// dispatch to heterogeneous destinations uniformly. The local TUN device
// is not a Sink; the router writes to it directly as a tundev.Device.
type Sink interface {
	Send(packet []byte) error
	Close() error
}

// Config carries the server's own addressing inside the tunnel subnet.
type Config struct {
	Address net.IP
	Netmask net.IP
}

// ErrAddressSpaceExhausted is returned by Acquire when no free address
// remains in the subnet.
var ErrAddressSpaceExhausted = errors.New("router: address space exhausted")

// Router owns the TUN endpoint and the virtual-IP routing table. One
// Router exists per server process.
type Router struct {
	log *zap.Logger

	ipMu   sync.Mutex
	ipMgr  *ipmanager.Manager

	routesMu sync.RWMutex
	routes   map[string]*entry

	tunMu sync.Mutex
	tun   tundev.Device

	gateway net.IP
	netmask net.IP

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

type entry struct {
	mu   sync.Mutex
	sink Sink
}

// New constructs a Router over the given TUN device, pre-blocking the
// server's own gateway address, and spawns the TUN-ingress goroutine that
// reads packets off tun and dispatches them for the lifetime of the
// Router.
func New(cfg Config, tun tundev.Device, log *zap.Logger) *Router {
	mgr := ipmanager.New(cfg.Address, cfg.Netmask)
	mgr.Block(cfg.Address)

	r := &Router{
		log:     log,
		ipMgr:   mgr,
		routes:  make(map[string]*entry),
		tun:     tun,
		gateway: cfg.Address,
		netmask: cfg.Netmask,
		stopCh:  make(chan struct{}),
	}

	r.wg.Add(1)
	go r.ingestTUN()
	return r
}

// Close stops the TUN-ingress goroutine and waits for it to exit. It does
// not close the TUN device itself; the caller owns that, and should close
// it at the same time (or first) so any in-flight TUN read unblocks
// instead of leaking a goroutine behind the exited ingress loop. Safe to
// call more than once.
func (r *Router) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// outcome classifies the result of attempting to dispatch a packet to a
// known client sink.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeNotIP
	outcomeNoIPv4
	outcomeNoRoute
	outcomeError
)

// routeLocal attempts to deliver packet to the client sink matching its
// destination address. It never touches the TUN sink.
func (r *Router) routeLocal(packet []byte) (outcome, error) {
	dst, oc := destinationOf(packet)
	if oc != outcomeOK {
		return oc, nil
	}

	r.routesMu.RLock()
	e, ok := r.routes[dst.String()]
	r.routesMu.RUnlock()
	if !ok {
		return outcomeNoRoute, nil
	}

	e.mu.Lock()
	err := e.sink.Send(packet)
	e.mu.Unlock()
	if err != nil {
		return outcomeError, fmt.Errorf("router: send to %s: %w", dst, err)
	}
	return outcomeOK, nil
}

// RoutePacket is the entry point for packets arriving from a client
// session. It first tries routeLocal; anything that isn't a concrete
// in-tunnel destination falls through to the local TUN device, making the
// server a gateway rather than a switch.
func (r *Router) RoutePacket(packet []byte) error {
	oc, err := r.routeLocal(packet)
	switch oc {
	case outcomeOK:
		metrics.PacketsRouted.WithLabelValues("delivered").Inc()
		metrics.BytesRouted.WithLabelValues("delivered").Add(float64(len(packet)))
		return nil
	case outcomeError:
		return err
	}

	r.tunMu.Lock()
	defer r.tunMu.Unlock()
	if err := r.tun.WritePacket(packet); err != nil {
		return fmt.Errorf("router: write to tun: %w", err)
	}
	metrics.PacketsRouted.WithLabelValues("forwarded_to_tun").Inc()
	metrics.BytesRouted.WithLabelValues("forwarded_to_tun").Add(float64(len(packet)))
	return nil
}

// ingestTUN is the server's singleton TUN-reader goroutine: it repeatedly
// reads one packet and dispatches it via routeLocal, logging and
// continuing on any per-packet problem. It terminates when the TUN device
// reports it has been closed, or when stopCh fires.
//
// tundev.Device.ReadPacket is not cancel-safe (a blocked call only returns
// once a packet arrives or the device is closed), so each read runs in its
// own goroutine and this loop races its completion against stopCh, the
// same pattern the client driver's pumps use against its stop signal. A
// read abandoned this way keeps running in the background until the TUN
// device is closed out from under it; callers of Close must close the
// device at the same time to avoid leaving it parked indefinitely.
func (r *Router) ingestTUN() {
	defer r.wg.Done()
	buf := make([]byte, 65536)

	type result struct {
		n   int
		err error
	}

	for {
		resCh := make(chan result, 1)
		go func() {
			n, err := r.tun.ReadPacket(buf)
			resCh <- result{n, err}
		}()

		select {
		case <-r.stopCh:
			return
		case res := <-resCh:
			if res.err != nil {
				if errors.Is(res.err, tundev.ErrClosed) || errors.Is(res.err, io.EOF) {
					return
				}
				r.log.Error("tun read failed, continuing", zap.Error(res.err))
				continue
			}
			packet := buf[:res.n]

			oc, routeErr := r.routeLocal(packet)
			switch oc {
			case outcomeOK:
			case outcomeNotIP:
				r.log.Warn("dropping non-IP packet from tun")
			case outcomeNoIPv4:
				r.log.Warn("dropping non-IPv4 packet from tun")
			case outcomeNoRoute:
				r.log.Warn("no route for packet from tun")
			case outcomeError:
				r.log.Error("error routing packet from tun", zap.Error(routeErr))
			}
		}
	}
}

// Acquire allocates the smallest free virtual address and returns a lease
// owning it, or ErrAddressSpaceExhausted if the subnet is full.
func (r *Router) Acquire() (*IpLease, error) {
	r.ipMu.Lock()
	defer r.ipMu.Unlock()

	addr, ok := r.ipMgr.Free()
	if !ok {
		return nil, ErrAddressSpaceExhausted
	}
	r.ipMgr.Block(addr)

	return &IpLease{router: r, addr: addr}, nil
}

func (r *Router) release(addr net.IP) {
	key := addr.String()

	r.routesMu.Lock()
	e, ok := r.routes[key]
	if ok {
		delete(r.routes, key)
	}
	r.routesMu.Unlock()

	if ok {
		e.mu.Lock()
		if err := e.sink.Close(); err != nil {
			r.log.Warn("could not close sink on lease release", zap.String("addr", key), zap.Error(err))
		}
		e.mu.Unlock()
	}

	r.ipMu.Lock()
	r.ipMgr.Release(addr)
	r.ipMu.Unlock()
}

func (r *Router) bind(addr net.IP, sink Sink) {
	key := addr.String()
	r.routesMu.Lock()
	r.routes[key] = &entry{sink: sink}
	r.routesMu.Unlock()
}
