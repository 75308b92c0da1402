//go:build linux

package hostroute

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

type linuxHandle struct {
	exceptionRoute *netlink.Route
	defaultRoute   *netlink.Route
	restoreRoutes  []netlink.Route
}

// Apply installs a default route through p.TUNName plus a /32 exception
// route for p.ServerAddr via the host's original default gateway, and
// returns a Handle that restores the prior default route(s) on Revert.
func Apply(p ApplyParams) (Handle, error) {
	link, err := netlink.LinkByName(p.TUNName)
	if err != nil {
		return nil, fmt.Errorf("hostroute: link lookup %q: %w", p.TUNName, err)
	}

	existing, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("hostroute: list routes: %w", err)
	}

	var originalDefaults []netlink.Route
	var gateway net.IP
	for _, route := range existing {
		if route.Dst == nil {
			originalDefaults = append(originalDefaults, route)
			if gateway == nil {
				gateway = route.Gw
			}
		}
	}
	if gateway == nil {
		return nil, fmt.Errorf("hostroute: no existing default route to exempt the VPN server through")
	}

	exception := &netlink.Route{
		Dst: &net.IPNet{IP: p.ServerAddr.To4(), Mask: net.CIDRMask(32, 32)},
		Gw:  gateway,
	}
	if err := netlink.RouteAdd(exception); err != nil {
		return nil, fmt.Errorf("hostroute: add exception route for %s: %w", p.ServerAddr, err)
	}

	for _, route := range originalDefaults {
		if err := netlink.RouteDel(&route); err != nil {
			_ = netlink.RouteDel(exception)
			return nil, fmt.Errorf("hostroute: remove original default route: %w", err)
		}
	}

	tunDefault := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
	}
	if err := netlink.RouteAdd(tunDefault); err != nil {
		for _, route := range originalDefaults {
			_ = netlink.RouteAdd(&route)
		}
		_ = netlink.RouteDel(exception)
		return nil, fmt.Errorf("hostroute: add default route via %q: %w", p.TUNName, err)
	}

	return &linuxHandle{
		exceptionRoute: exception,
		defaultRoute:   tunDefault,
		restoreRoutes:  originalDefaults,
	}, nil
}

func (h *linuxHandle) Revert() error {
	_ = netlink.RouteDel(h.defaultRoute)
	_ = netlink.RouteDel(h.exceptionRoute)
	for _, route := range h.restoreRoutes {
		route := route
		if err := netlink.RouteAdd(&route); err != nil {
			return fmt.Errorf("hostroute: restore original default route: %w", err)
		}
	}
	return nil
}
