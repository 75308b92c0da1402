// Package client implements the VPN client driver: TLS connect, receive
// the handshake config, bring up a local TUN device, and pump packets
// between the TUN device and the TLS stream until told to stop.
package client

import (
	"crypto/tls"
	"fmt"
	"net"

	"go.uber.org/zap"

	"tunserve/config"
	"tunserve/protocol"
	"tunserve/stopsignal"
	"tunserve/tundev"
)

// Client holds everything needed to run one VPN session.
type Client struct {
	log        *zap.Logger
	serverAddr net.TCPAddr
	tlsConfig  *tls.Config
	reroute    bool
}

// New builds a Client for the given server endpoint.
func New(cfg *config.Client, tlsCfg *config.TLS, log *zap.Logger) *Client {
	return &Client{
		log:        log,
		serverAddr: net.TCPAddr{IP: cfg.Address, Port: int(cfg.Port)},
		tlsConfig:  tlsCfg.ClientTLSConfig(cfg.Address.String()),
		reroute:    cfg.Reroute,
	}
}

// Run connects, negotiates, and pumps packets until stop is raised or
// either pump terminates. It returns nil on a clean stop-driven shutdown.
func (c *Client) Run(stop *stopsignal.Signal) error {
	tcpConn, err := net.DialTCP("tcp", nil, &c.serverAddr)
	if err != nil {
		return fmt.Errorf("client: connect to %s: %w", c.serverAddr.String(), err)
	}

	tlsConn := tls.Client(tcpConn, c.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		_ = tcpConn.Close()
		return fmt.Errorf("client: tls handshake: %w", err)
	}

	session := protocol.New(tlsConn)
	netCfg, err := session.ReceiveConfig()
	if err != nil {
		_ = tlsConn.Close()
		return fmt.Errorf("client: receive network config: %w", err)
	}
	c.log.Info("received network config",
		zap.String("clientIP", netCfg.ClientIP.String()),
		zap.String("serverIP", netCfg.ServerIP.String()),
		zap.Uint16("mtu", netCfg.MTU))

	dev, err := tundev.CreateClient(tundev.ClientParams{
		Address:     netCfg.ClientIP,
		Destination: netCfg.ServerIP,
		Netmask:     netCfg.Netmask,
		MTU:         int(netCfg.MTU),
	})
	if err != nil {
		_ = tlsConn.Close()
		return fmt.Errorf("client: create tun device: %w", err)
	}
	defer func() { _ = dev.Close() }()

	var revert func()
	if c.reroute {
		revert, err = applyHostRouting(dev, c.serverAddr.IP)
		if err != nil {
			c.log.Warn("could not apply host routing, continuing without full-tunnel reroute", zap.Error(err))
		}
	}
	if revert != nil {
		defer revert()
	}

	sender, receiver := session.Split()

	errCh := make(chan error, 2)
	go func() { errCh <- c.pumpTLSToTUN(receiver, dev, stop) }()
	go func() { errCh <- c.pumpTUNToTLS(dev, sender, stop) }()

	err = <-errCh
	stop.Raise()
	_ = tlsConn.Close()
	_ = dev.Close()
	<-errCh

	if err != nil {
		return fmt.Errorf("client: session ended: %w", err)
	}
	return nil
}

// pumpTLSToTUN moves packets received over TLS into the local TUN device
// until stop is raised or the receive side errors.
func (c *Client) pumpTLSToTUN(receiver *protocol.Receiver, dev tundev.Device, stop *stopsignal.Signal) error {
	type result struct {
		pkt []byte
		err error
	}
	resCh := make(chan result, 1)

	for {
		go func() {
			pkt, err := receiver.Receive()
			resCh <- result{pkt, err}
		}()

		select {
		case <-stop.Done():
			return nil
		case res := <-resCh:
			if res.err != nil {
				return fmt.Errorf("client: receive from server: %w", res.err)
			}
			if err := dev.WritePacket(res.pkt); err != nil {
				return fmt.Errorf("client: write to tun: %w", err)
			}
		}
	}
}

// pumpTUNToTLS moves packets read from the local TUN device out over TLS
// until stop is raised or the TUN read errors. The TUN read is not
// cancel-safe, so this pump only ever races whole reads, never partial
// ones, against the stop signal.
func (c *Client) pumpTUNToTLS(dev tundev.Device, sender *protocol.Sender, stop *stopsignal.Signal) error {
	buf := make([]byte, dev.MTU())
	type result struct {
		n   int
		err error
	}
	resCh := make(chan result, 1)

	for {
		go func() {
			n, err := dev.ReadPacket(buf)
			resCh <- result{n, err}
		}()

		select {
		case <-stop.Done():
			return nil
		case res := <-resCh:
			if res.err != nil {
				return fmt.Errorf("client: read from tun: %w", res.err)
			}
			if err := sender.Send(buf[:res.n]); err != nil {
				return fmt.Errorf("client: send to server: %w", err)
			}
		}
	}
}
