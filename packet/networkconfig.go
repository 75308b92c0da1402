package packet

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// NetworkConfigSize is the fixed wire size of a NetworkConfig frame.
const NetworkConfigSize = 14

// NetworkConfig is the handshake frame a server sends a client exactly once
// at the start of a session: the client's assigned virtual address, the
// server's gateway address, the subnet mask, and the tunnel MTU. It is
// written raw, with no length prefix, ahead of any framed packets.
type NetworkConfig struct {
	ClientIP net.IP
	ServerIP net.IP
	Netmask  net.IP
	MTU      uint16
}

// Encode renders c as its 14-byte wire form.
func (c NetworkConfig) Encode() [NetworkConfigSize]byte {
	var out [NetworkConfigSize]byte
	copy(out[0:4], c.ClientIP.To4())
	copy(out[4:8], c.ServerIP.To4())
	copy(out[8:12], c.Netmask.To4())
	binary.LittleEndian.PutUint16(out[12:14], c.MTU)
	return out
}

// DecodeNetworkConfig parses a 14-byte wire frame. It returns an error if
// buf is not exactly NetworkConfigSize bytes.
func DecodeNetworkConfig(buf []byte) (NetworkConfig, error) {
	if len(buf) != NetworkConfigSize {
		return NetworkConfig{}, fmt.Errorf("packet: invalid NetworkConfig size %d", len(buf))
	}
	return NetworkConfig{
		ClientIP: net.IP(append([]byte(nil), buf[0:4]...)),
		ServerIP: net.IP(append([]byte(nil), buf[4:8]...)),
		Netmask:  net.IP(append([]byte(nil), buf[8:12]...)),
		MTU:      binary.LittleEndian.Uint16(buf[12:14]),
	}, nil
}

// WriteNetworkConfig writes c's raw 14-byte encoding to w with no length
// prefix, flushing afterward if w supports it.
func WriteNetworkConfig(w io.Writer, c NetworkConfig) error {
	enc := c.Encode()
	if _, err := w.Write(enc[:]); err != nil {
		return fmt.Errorf("packet: write network config: %w", err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("packet: flush network config: %w", err)
		}
	}
	return nil
}

// ReadNetworkConfig reads exactly NetworkConfigSize bytes from r and
// decodes them. A short read surfaces as io.ErrUnexpectedEOF.
func ReadNetworkConfig(r io.Reader) (NetworkConfig, error) {
	var buf [NetworkConfigSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return NetworkConfig{}, fmt.Errorf("packet: read network config: %w", err)
	}
	return DecodeNetworkConfig(buf[:])
}
