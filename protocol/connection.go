// Package protocol implements the per-session handshake and half-duplex
// split over an authenticated, bidirectional byte stream (a TLS
// connection in production, any io.ReadWriteCloser in tests).
package protocol

import (
	"io"

	"tunserve/packet"
)

// Stream is the bidirectional byte stream a Connection wraps; satisfied
// by *tls.Conn and by net.Conn generally.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Connection owns a Stream for the duration of the handshake, then splits
// into independent Sender/Receiver halves sharing the same underlying
// stream under the usual half-duplex discipline: no concurrent writes, no
// concurrent reads.
type Connection struct {
	stream Stream
}

// New wraps stream. The config frame has not been exchanged yet.
func New(stream Stream) *Connection {
	return &Connection{stream: stream}
}

// SendConfig writes cfg as the raw 14-byte handshake frame, with no length
// prefix, and flushes.
func (c *Connection) SendConfig(cfg packet.NetworkConfig) error {
	return packet.WriteNetworkConfig(c.stream, cfg)
}

// ReceiveConfig reads exactly 14 bytes and decodes them as the handshake
// frame. It fails on a short read.
func (c *Connection) ReceiveConfig() (packet.NetworkConfig, error) {
	return packet.ReadNetworkConfig(c.stream)
}

// Split consumes the Connection and returns independent packet-level
// sender and receiver halves. The config frame must already have been
// exchanged; everything after this point on the wire is framed packets.
func (c *Connection) Split() (*Sender, *Receiver) {
	return &Sender{w: packet.NewWriter(c.stream), closer: c.stream},
		&Receiver{r: packet.NewReader(c.stream)}
}

// Sender is the write half of a split Connection. It implements
// router.Sink structurally (Send/Close), so it can be stored directly in
// the server's routing table without protocol importing router.
type Sender struct {
	w      *packet.Writer
	closer io.Closer
}

// Send writes one framed packet.
func (s *Sender) Send(p []byte) error {
	return s.w.Write(p)
}

// Close closes the underlying stream. Since Sender and Receiver share one
// Stream, closing either closes both halves.
func (s *Sender) Close() error {
	return s.closer.Close()
}

// Receiver is the read half of a split Connection.
type Receiver struct {
	r *packet.Reader
}

// Receive reads one framed packet.
func (r *Receiver) Receive() ([]byte, error) {
	return r.r.Read()
}
