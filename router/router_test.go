package router

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"tunserve/tundev/tuntest"
)

func newTestRouter(t *testing.T) (*Router, *tuntest.Device) {
	t.Helper()
	tun := tuntest.New(1500)
	r := New(Config{
		Address: net.ParseIP("10.0.0.1"),
		Netmask: net.ParseIP("255.255.255.0"),
	}, tun, zap.NewNop())
	t.Cleanup(func() {
		// Close the fake TUN device first so ingestTUN's blocked read
		// unblocks instead of leaking behind Router.Close's wg.Wait.
		_ = tun.Close()
		r.Close()
	})
	return r, tun
}

type fakeSink struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	sendFn func([]byte) error
}

func (f *fakeSink) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFn != nil {
		if err := f.sendFn(p); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) snapshot() ([][]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...), f.closed
}

func ipv4Packet(t *testing.T, dst string) []byte {
	t.Helper()
	pkt := make([]byte, 20)
	pkt[0] = 0x45
	copy(pkt[16:20], net.ParseIP(dst).To4())
	return pkt
}

func TestGoleak(t *testing.T) {
	defer goleak.VerifyNone(t)
	r, tun := newTestRouter(t)
	_ = tun.Close()
	r.Close()
}

func TestRouteDispatchToKnownSink(t *testing.T) {
	r, tun := newTestRouter(t)

	leaseA, err := r.Acquire()
	require.NoError(t, err)
	sinkA := &fakeSink{}
	leaseA.Bind(sinkA)

	leaseB, err := r.Acquire()
	require.NoError(t, err)
	sinkB := &fakeSink{}
	leaseB.Bind(sinkB)

	pkt := ipv4Packet(t, leaseA.Address().String())
	require.NoError(t, r.RoutePacket(pkt))

	sentA, _ := sinkA.snapshot()
	sentB, _ := sinkB.snapshot()
	assert.Len(t, sentA, 1)
	assert.Len(t, sentB, 0)
	assert.Equal(t, tun.WrittenSnapshot(), [][]byte(nil))
}

func TestUnknownIPv4DestinationGoesToTUN(t *testing.T) {
	r, tun := newTestRouter(t)

	pkt := ipv4Packet(t, "10.0.0.99")
	require.NoError(t, r.RoutePacket(pkt))

	written := tun.WrittenSnapshot()
	require.Len(t, written, 1)
	assert.Equal(t, pkt, written[0])
}

func TestNonIPv4GoesToTUN(t *testing.T) {
	r, tun := newTestRouter(t)

	pkt := []byte{0x60, 0, 0, 0} // IPv6 version nibble
	require.NoError(t, r.RoutePacket(pkt))

	written := tun.WrittenSnapshot()
	require.Len(t, written, 1)
}

func TestLeaseReleaseFreesRouteAndAddress(t *testing.T) {
	r, _ := newTestRouter(t)

	lease, err := r.Acquire()
	require.NoError(t, err)
	addr := lease.Address()
	sink := &fakeSink{}
	lease.Bind(sink)

	lease.Release()

	_, closed := sink.snapshot()
	assert.True(t, closed)

	pkt := ipv4Packet(t, addr.String())
	require.NoError(t, r.RoutePacket(pkt))
	// with the route gone, the packet should fall through to TUN instead
	// of the (now closed) old sink.
	sent, _ := sink.snapshot()
	assert.Len(t, sent, 0)

	lease2, err := r.Acquire()
	require.NoError(t, err)
	assert.True(t, lease2.Address().Equal(addr), "released address should be reusable")
}

func TestAddressExhaustion(t *testing.T) {
	tun := tuntest.New(1500)
	r := New(Config{
		Address: net.ParseIP("10.0.0.0"),
		Netmask: net.ParseIP("255.255.255.252"),
	}, tun, zap.NewNop())
	defer r.Close()
	defer func() { _ = tun.Close() }()

	var leases []*IpLease
	for i := 0; i < 3; i++ {
		l, err := r.Acquire()
		require.NoError(t, err)
		leases = append(leases, l)
	}

	_, err := r.Acquire()
	assert.True(t, errors.Is(err, ErrAddressSpaceExhausted))

	leases[0].Release()
	_, err = r.Acquire()
	assert.NoError(t, err)
}

func TestTransientSendErrorDoesNotRemoveRoute(t *testing.T) {
	r, _ := newTestRouter(t)

	lease, err := r.Acquire()
	require.NoError(t, err)
	boom := errors.New("boom")
	sink := &fakeSink{sendFn: func([]byte) error { return boom }}
	lease.Bind(sink)

	pkt := ipv4Packet(t, lease.Address().String())
	err = r.RoutePacket(pkt)
	assert.Error(t, err)

	// the route entry survives a transient send error; only an explicit
	// Release removes it.
	r.routesMu.RLock()
	_, ok := r.routes[lease.Address().String()]
	r.routesMu.RUnlock()
	assert.True(t, ok)
}

func TestTUNIngressDispatchesToClientSink(t *testing.T) {
	r, tun := newTestRouter(t)

	lease, err := r.Acquire()
	require.NoError(t, err)
	sink := &fakeSink{}
	lease.Bind(sink)

	tun.Push(ipv4Packet(t, lease.Address().String()))

	require.Eventually(t, func() bool {
		sent, _ := sink.snapshot()
		return len(sent) == 1
	}, time.Second, 5*time.Millisecond)
}
