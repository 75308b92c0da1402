// Package tundev creates and configures the local TUN interface used to
// bridge virtual IPv4 traffic into (server) or out of (client) the host
// network stack.
package tundev

import (
	"errors"
	"net"
)

// ErrUnsupported is returned by platform-specific constructors when TUN
// creation is not implemented for the running GOOS.
var ErrUnsupported = errors.New("tundev: unsupported platform")

// ErrClosed is returned by ReadPacket (and may wrap into WritePacket's
// error) once Close has been called on the device. Callers that loop on
// ReadPacket use this to distinguish a deliberate shutdown from a
// transient read error.
var ErrClosed = errors.New("tundev: device closed")

// Device is the narrow surface the rest of this module needs from a TUN
// interface: whole-packet reads and writes, sized to the configured MTU.
// Unlike the framed TLS stream, a TUN read/write always moves exactly one
// IP datagram.
type Device interface {
	// ReadPacket reads one packet into buf, sized at least MTU bytes, and
	// returns the number of bytes read. Not cancel-safe: a caller that
	// abandons an in-flight ReadPacket (e.g. to honor a stop signal) may
	// lose the packet that was being read.
	ReadPacket(buf []byte) (int, error)
	// WritePacket writes one whole packet to the interface.
	WritePacket(packet []byte) error
	MTU() int
	Name() string
	Close() error
}

// ServerParams configures the server-side TUN device: a single address on
// the subnet (the gateway) plus its netmask.
type ServerParams struct {
	Address net.IP
	Netmask net.IP
	MTU     int
}

// ClientParams configures the client-side TUN device: the address assigned
// to this client, the server's gateway as the point-to-point peer, and the
// negotiated netmask/MTU.
type ClientParams struct {
	Address     net.IP
	Destination net.IP
	Netmask     net.IP
	MTU         int
}
