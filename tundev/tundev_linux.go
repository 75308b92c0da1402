//go:build linux

package tundev

import (
	"fmt"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	wgtun "golang.zx2c4.com/wireguard/tun"
)

// linuxDevice adapts wireguard-go's batched tun.Device interface to the
// single-packet Device surface the router and client pumps use.
type linuxDevice struct {
	dev   wgtun.Device
	mtu   int
	bufs  [][]byte
	sizes []int

	mu     sync.Mutex
	closed bool
}

func newLinuxDevice(mtu int) (*linuxDevice, error) {
	dev, err := wgtun.CreateTUN("tun%d", mtu)
	if err != nil {
		return nil, fmt.Errorf("tundev: create TUN: %w", err)
	}
	actualMTU, err := dev.MTU()
	if err != nil || actualMTU <= 0 {
		actualMTU = mtu
	}
	return &linuxDevice{
		dev:   dev,
		mtu:   actualMTU,
		bufs:  [][]byte{make([]byte, actualMTU+32)},
		sizes: make([]int, 1),
	}, nil
}

func (d *linuxDevice) ReadPacket(buf []byte) (int, error) {
	n, err := d.dev.Read(d.bufs, d.sizes, 0)
	if err != nil {
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return 0, ErrClosed
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	sz := d.sizes[0]
	return copy(buf, d.bufs[0][:sz]), nil
}

func (d *linuxDevice) WritePacket(packet []byte) error {
	_, err := d.dev.Write([][]byte{packet}, 0)
	return err
}

func (d *linuxDevice) MTU() int { return d.mtu }

func (d *linuxDevice) Name() string {
	name, err := d.dev.Name()
	if err != nil {
		return ""
	}
	return name
}

func (d *linuxDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.dev.Close()
}

// CreateServer brings up a TUN interface carrying the server's gateway
// address on the configured subnet.
func CreateServer(p ServerParams) (Device, error) {
	dev, err := newLinuxDevice(p.MTU)
	if err != nil {
		return nil, err
	}
	if err := configureLink(dev.Name(), p.Address, p.Netmask, nil); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return dev, nil
}

// CreateClient brings up a TUN interface for a client session, with the
// server's gateway set as the point-to-point destination.
func CreateClient(p ClientParams) (Device, error) {
	dev, err := newLinuxDevice(p.MTU)
	if err != nil {
		return nil, err
	}
	if err := configureLink(dev.Name(), p.Address, p.Netmask, p.Destination); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return dev, nil
}

func configureLink(name string, addr, mask, peer net.IP) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("tundev: link lookup %q: %w", name, err)
	}

	ones, _ := net.IPMask(mask.To4()).Size()
	nlAddr := &netlink.Addr{IPNet: &net.IPNet{IP: addr.To4(), Mask: net.CIDRMask(ones, 32)}}
	if peer != nil {
		nlAddr.Peer = &net.IPNet{IP: peer.To4(), Mask: net.CIDRMask(32, 32)}
	}
	if err := netlink.AddrAdd(link, nlAddr); err != nil {
		return fmt.Errorf("tundev: assign address to %q: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("tundev: bring up %q: %w", name, err)
	}
	return nil
}
