package config

import (
	"crypto/tls"
	"encoding/pem"
)

// decodePEM returns the DER bytes of the first PEM block found in s.
func decodePEM(s string) ([]byte, *pem.Block) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, nil
	}
	return block.Bytes, block
}

// ServerTLSConfig builds a *tls.Config requiring and verifying client
// certificates against the configured root, and presenting the server's
// own certificate.
func (t TLS) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{t.Certificate},
		ClientCAs:    t.rootPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientTLSConfig builds a *tls.Config verifying the server against the
// configured root and presenting the client's own certificate for mutual
// authentication.
func (t TLS) ClientTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{t.Certificate},
		RootCAs:      t.rootPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}
}
