package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tunserve/packet"
	"tunserve/protocol"
	"tunserve/stopsignal"
	"tunserve/tundev/tuntest"
)

// withinQuantum is the bound testable property 8 expects a pump to return
// in once its stop signal is raised.
const withinQuantum = 200 * time.Millisecond

func newTestClient() *Client {
	return &Client{log: zap.NewNop()}
}

func TestPumpTLSToTUNWritesReceivedPacket(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	_, receiver := protocol.New(clientSide).Split()
	tun := tuntest.New(1500)
	defer func() { _ = tun.Close() }()

	stop := stopsignal.New()
	c := newTestClient()

	errCh := make(chan error, 1)
	go func() { errCh <- c.pumpTLSToTUN(receiver, tun, stop) }()

	payload := []byte{1, 2, 3, 4}
	require.NoError(t, packet.NewWriter(serverSide).Write(payload))

	require.Eventually(t, func() bool {
		written := tun.WrittenSnapshot()
		return len(written) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, payload, tun.WrittenSnapshot()[0])

	stop.Raise()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(withinQuantum):
		t.Fatal("pumpTLSToTUN did not return within one I/O quantum of stop being raised")
	}
}

func TestPumpTLSToTUNReturnsPromptlyOnStop(t *testing.T) {
	_, clientSide := net.Pipe()
	defer clientSide.Close()

	_, receiver := protocol.New(clientSide).Split()
	tun := tuntest.New(1500)
	defer func() { _ = tun.Close() }()

	stop := stopsignal.New()
	c := newTestClient()

	errCh := make(chan error, 1)
	go func() { errCh <- c.pumpTLSToTUN(receiver, tun, stop) }()

	// No data is ever sent, so pumpTLSToTUN is parked on a receive that
	// will never complete; only the stop signal can free it.
	stop.Raise()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(withinQuantum):
		t.Fatal("pumpTLSToTUN did not return within one I/O quantum of stop being raised")
	}
}

func TestPumpTUNToTLSSendsReadPacket(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	sender, _ := protocol.New(clientSide).Split()
	tun := tuntest.New(1500)
	defer func() { _ = tun.Close() }()

	stop := stopsignal.New()
	c := newTestClient()

	errCh := make(chan error, 1)
	go func() { errCh <- c.pumpTUNToTLS(tun, sender, stop) }()

	payload := []byte{9, 8, 7}
	tun.Push(payload)

	readCh := make(chan []byte, 1)
	go func() {
		p, err := packet.NewReader(serverSide).Read()
		if err != nil {
			return
		}
		readCh <- p
	}()

	select {
	case got := <-readCh:
		assert.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("did not observe packet sent over the stream")
	}

	stop.Raise()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(withinQuantum):
		t.Fatal("pumpTUNToTLS did not return within one I/O quantum of stop being raised")
	}
}

func TestPumpTUNToTLSReturnsPromptlyOnStop(t *testing.T) {
	_, clientSide := net.Pipe()
	defer clientSide.Close()

	sender, _ := protocol.New(clientSide).Split()
	tun := tuntest.New(1500)
	defer func() { _ = tun.Close() }()

	stop := stopsignal.New()
	c := newTestClient()

	errCh := make(chan error, 1)
	go func() { errCh <- c.pumpTUNToTLS(tun, sender, stop) }()

	// No packet is ever pushed, so pumpTUNToTLS is parked on a TUN read
	// that will never complete; only the stop signal can free it.
	stop.Raise()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(withinQuantum):
		t.Fatal("pumpTUNToTLS did not return within one I/O quantum of stop being raised")
	}
}
