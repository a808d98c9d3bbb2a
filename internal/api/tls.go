package api

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/AaronLay10/SentientLock/internal/config"
)

// TLSSettings names the certificate files for the API listener and the CA
// peers trust when the orchestrator's certificate is self-signed.
type TLSSettings struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// tlsSettings is used by ListenAndServe, set by InitTLS.
var tlsSettings TLSSettings

// TLSFromEnv reads SENTIENTLOCK_TLS_CERT, SENTIENTLOCK_TLS_KEY and
// SENTIENTLOCK_TLS_CA.
func TLSFromEnv() TLSSettings {
	return TLSSettings{
		CertFile: config.EnvOr("SENTIENTLOCK_TLS_CERT", ""),
		KeyFile:  config.EnvOr("SENTIENTLOCK_TLS_KEY", ""),
		CAFile:   config.EnvOr("SENTIENTLOCK_TLS_CA", ""),
	}
}

// InitTLS loads the listener settings from the environment.
func InitTLS() {
	tlsSettings = TLSFromEnv()
}

// SetTLSForTest replaces the listener settings.
func SetTLSForTest(s TLSSettings) {
	tlsSettings = s
}

// ServesTLS reports whether both the certificate and key are set.
func (s TLSSettings) ServesTLS() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// ServerConfig loads the listener certificate. It returns nil, nil when
// TLS is not configured.
func (s TLSSettings) ServerConfig() (*tls.Config, error) {
	if !s.ServesTLS() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientConfig trusts CAFile on top of the system roots. It returns nil,
// nil when no CA is configured.
func (s TLSSettings) ClientConfig() (*tls.Config, error) {
	if s.CAFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(s.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA %s: %w", s.CAFile, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", s.CAFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
