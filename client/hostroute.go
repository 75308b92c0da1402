package client

import (
	"net"

	"tunserve/hostroute"
	"tunserve/tundev"
)

// applyHostRouting wires the optional full-tunnel mode into the session:
// it hijacks the host default route through dev, with an exception route
// for the real (non-virtual) server address.
func applyHostRouting(dev tundev.Device, serverAddr net.IP) (func(), error) {
	handle, err := hostroute.Apply(hostroute.ApplyParams{
		TUNName:    dev.Name(),
		ServerAddr: serverAddr,
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = handle.Revert() }, nil
}
