// Package config loads and validates the VPN's TOML configuration file:
// exactly one of a [client] or [server] section, plus a mandatory [tls]
// section.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
)

// Client holds the client-mode settings.
type Client struct {
	Address net.IP
	Port    uint16
	Reroute bool
}

// defaultMTU is used when a server config omits mtu.
const defaultMTU = 1420

// Server holds the server-mode settings.
type Server struct {
	Port           uint16
	VirtualAddress net.IP
	SubnetMask     net.IP
	MTU            int
}

// TLS holds the parsed certificate material common to both modes.
type TLS struct {
	RootCertificate *x509.Certificate
	Certificate     tls.Certificate
	rootPool        *x509.CertPool
}

// Config is the fully validated, typed configuration for one run of the
// program. Exactly one of Client or Server is non-nil.
type Config struct {
	Client *Client
	Server *Server
	TLS    TLS
}

// rawConfig mirrors the TOML document shape before validation.
type rawConfig struct {
	Client *rawClient `toml:"client"`
	Server *rawServer `toml:"server"`
	TLS    rawTLS     `toml:"tls"`
}

type rawClient struct {
	Address string `toml:"address"`
	Port    uint16 `toml:"port"`
	Reroute bool   `toml:"reroute"`
}

type rawServer struct {
	Port           uint16 `toml:"port"`
	VirtualAddress string `toml:"virtual_address"`
	SubnetMask     string `toml:"subnet_mask"`
	MTU            int    `toml:"mtu"`
}

type rawTLS struct {
	RootCertificate string `toml:"root_certificate"`
	Certificate     string `toml:"certificate"`
	Key             string `toml:"key"`
}

// Load reads and validates the TOML configuration file at path.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var raw rawConfig
	if _, err := toml.Decode(string(buf), &raw); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawConfig) (*Config, error) {
	if raw.Client != nil && raw.Server != nil {
		return nil, fmt.Errorf("config: cannot contain both [client] and [server] sections")
	}
	if raw.Client == nil && raw.Server == nil {
		return nil, fmt.Errorf("config: must contain either a [client] or a [server] section")
	}

	cfg := &Config{}
	if raw.Client != nil {
		c, err := readClient(*raw.Client)
		if err != nil {
			return nil, err
		}
		cfg.Client = c
	} else {
		s, err := readServer(*raw.Server)
		if err != nil {
			return nil, err
		}
		cfg.Server = s
	}

	tlsCfg, err := readTLS(raw.TLS)
	if err != nil {
		return nil, err
	}
	cfg.TLS = tlsCfg

	return cfg, nil
}

func readClient(raw rawClient) (*Client, error) {
	ip := net.ParseIP(raw.Address)
	if ip == nil {
		addrs, err := net.LookupIP(raw.Address)
		if err != nil || len(addrs) == 0 {
			return nil, fmt.Errorf("config: could not resolve client address %q", raw.Address)
		}
		ip = addrs[0]
	}
	return &Client{Address: ip, Port: raw.Port, Reroute: raw.Reroute}, nil
}

func readServer(raw rawServer) (*Server, error) {
	addr := net.ParseIP(raw.VirtualAddress)
	if addr == nil {
		return nil, fmt.Errorf("config: invalid virtual_address %q", raw.VirtualAddress)
	}
	mask := net.ParseIP(raw.SubnetMask)
	if mask == nil {
		return nil, fmt.Errorf("config: invalid subnet_mask %q", raw.SubnetMask)
	}
	mtu := raw.MTU
	if mtu == 0 {
		mtu = defaultMTU
	}
	return &Server{Port: raw.Port, VirtualAddress: addr, SubnetMask: mask, MTU: mtu}, nil
}

func readTLS(raw rawTLS) (TLS, error) {
	cert, err := tls.X509KeyPair([]byte(raw.Certificate), []byte(raw.Key))
	if err != nil {
		return TLS{}, fmt.Errorf("config: invalid certificate/key pair: %w", err)
	}

	der, _ := decodePEM(raw.RootCertificate)
	if der == nil {
		return TLS{}, fmt.Errorf("config: invalid root_certificate PEM")
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return TLS{}, fmt.Errorf("config: parse root_certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(root)

	return TLS{RootCertificate: root, Certificate: cert, rootPool: pool}, nil
}

// RootPool returns the certificate pool containing only the configured
// root, used both as the server's client-verification root and the
// client's server-verification root.
func (t TLS) RootPool() *x509.CertPool {
	return t.rootPool
}
