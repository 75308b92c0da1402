// Package server implements the VPN's accept loop and per-client session
// task: TLS handshake, IP lease, config exchange, then a client-to-router
// pump for the lifetime of the session.
package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"tunserve/config"
	"tunserve/metrics"
	"tunserve/packet"
	"tunserve/protocol"
	"tunserve/router"
	"tunserve/tundev"
)

// maxHandshakesPerWindow caps how many TLS handshakes a single source IP
// may attempt within the rate-limiter's window before being rejected,
// mirroring the teacher's per-IP request cap.
const maxHandshakesPerWindow = 20

// Server accepts client TLS sessions on one TCP listener and routes their
// packets through a shared Router.
type Server struct {
	log *zap.Logger

	listenAddr net.TCPAddr
	tlsConfig  *tls.Config
	router     *router.Router

	gateway net.IP
	netmask net.IP
	mtu     int

	handshakeAttempts *cache.Cache
}

// New builds a Server. It does not start listening; call Run for that.
func New(cfg *config.Server, tlsCfg *config.TLS, tun tundev.Device, log *zap.Logger) (*Server, error) {
	mtu := tun.MTU()
	r := router.New(router.Config{
		Address: cfg.VirtualAddress,
		Netmask: cfg.SubnetMask,
	}, tun, log.Named("router"))

	return &Server{
		log:               log,
		listenAddr:        net.TCPAddr{IP: net.IPv4zero, Port: int(cfg.Port)},
		tlsConfig:         tlsCfg.ServerTLSConfig(),
		router:            r,
		gateway:           cfg.VirtualAddress,
		netmask:           cfg.SubnetMask,
		mtu:               mtu,
		handshakeAttempts: cache.New(30*time.Second, time.Minute),
	}, nil
}

// Run accepts connections until stopCh is closed, which also closes the
// listener. Other accept errors are logged and accepting continues.
func (s *Server) Run(stopCh <-chan struct{}) error {
	listener, err := net.ListenTCP("tcp", &s.listenAddr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.listenAddr.String(), err)
	}
	s.log.Info("listening", zap.String("addr", s.listenAddr.String()))

	go func() {
		<-stopCh
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return nil
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		if !s.allowHandshake(conn.RemoteAddr()) {
			s.log.Warn("rejecting connection, too many recent handshakes",
				zap.String("remoteAddr", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		go s.handleClient(conn)
	}
}

// allowHandshake applies the per-source-IP handshake rate limit, caching
// counts the same way the teacher's ipCache guards raw TCP accepts.
func (s *Server) allowHandshake(addr net.Addr) bool {
	host := addr.String()
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}

	if count, found := s.handshakeAttempts.Get(host); found {
		n := count.(int)
		if n >= maxHandshakesPerWindow {
			return false
		}
		s.handshakeAttempts.Increment(host, 1)
	} else {
		s.handshakeAttempts.Set(host, 1, cache.DefaultExpiration)
	}
	return true
}

func (s *Server) handleClient(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	tlsConn := tls.Server(conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.log.Warn("tls handshake failed", zap.String("remoteAddr", remote), zap.Error(err))
		_ = conn.Close()
		return
	}

	lease, err := s.router.Acquire()
	if err != nil {
		s.log.Warn("rejecting client, address space exhausted", zap.String("remoteAddr", remote), zap.Error(err))
		_ = tlsConn.Close()
		return
	}

	session := protocol.New(tlsConn)
	cfg := packet.NetworkConfig{
		ClientIP: lease.Address(),
		ServerIP: s.gateway,
		Netmask:  s.netmask,
		MTU:      uint16(s.mtu),
	}
	if err := session.SendConfig(cfg); err != nil {
		s.log.Warn("could not send network config", zap.String("remoteAddr", remote), zap.Error(err))
		lease.Release()
		_ = tlsConn.Close()
		return
	}

	sender, receiver := session.Split()
	lease.Bind(sender)
	metrics.ConnectedClients.Inc()
	s.log.Info("client connected", zap.String("remoteAddr", remote), zap.String("vip", lease.Address().String()))

	defer func() {
		lease.Release()
		metrics.ConnectedClients.Dec()
		s.log.Info("client disconnected", zap.String("remoteAddr", remote), zap.String("vip", lease.Address().String()))
	}()

	for {
		pkt, err := receiver.Receive()
		if err != nil {
			s.log.Debug("session ended", zap.String("remoteAddr", remote), zap.Error(err))
			return
		}
		if err := s.router.RoutePacket(pkt); err != nil {
			s.log.Warn("could not route packet", zap.String("remoteAddr", remote), zap.Error(err))
			return
		}
	}
}

// Close tears down the underlying Router's TUN-ingress goroutine.
func (s *Server) Close() {
	s.router.Close()
}
