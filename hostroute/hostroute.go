// Package hostroute implements the client's optional full-tunnel mode: on
// platforms that support it, the host's default route is replaced with
// one through the VPN's TUN device, with a /32 exception route keeping
// traffic to the VPN server itself on the original path.
package hostroute

import (
	"errors"
	"net"
)

// ErrUnsupported is returned on platforms without a host-routing backend.
var ErrUnsupported = errors.New("hostroute: unsupported platform")

// Handle reverts a route change applied by Apply.
type Handle interface {
	Revert() error
}

// ApplyParams names the host-routing change to make.
type ApplyParams struct {
	// TUNName is the name of the already-up client TUN interface.
	TUNName string
	// ServerAddr is the VPN server's real (non-virtual) endpoint address,
	// which needs a /32 exception so its own traffic does not loop back
	// through the tunnel.
	ServerAddr net.IP
}
