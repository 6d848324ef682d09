// Package netstack owns the HTTP transport shared by every fetch in the
// process. The transport is built lazily by the first Acquire and torn down
// by the Release that drops the last reference.
package netstack

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoCertificates is returned when the trust-root file holds no PEM certificates.
var ErrNoCertificates = errors.New("no certificates found in trust root file")

// Config captures transport settings fixed for the lifetime of a Stack.
type Config struct {
	// CAFile is a PEM bundle used as the TLS trust root. Empty means the system pool.
	CAFile string
}

// Stack is a reference-counted holder of the shared transport. The zero value
// is not usable; call New.
type Stack struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	refs      int
	inits     int
	transport *http.Transport
}

// New returns an uninitialized Stack. No files are read until Acquire.
func New(cfg Config, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{cfg: cfg, logger: logger}
}

// Acquire returns the shared transport, building it on first use. Every
// successful Acquire must be paired with one Release.
func (s *Stack) Acquire() (http.RoundTripper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		transport, err := newTransport(s.cfg)
		if err != nil {
			return nil, err
		}
		s.transport = transport
		s.inits++
		s.logger.Debug("network stack initialized", zap.String("ca_file", s.cfg.CAFile))
	}
	s.refs++
	return s.transport, nil
}

// Release drops one reference. The last release closes idle connections and
// forgets the transport so a later Acquire starts fresh.
func (s *Stack) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		s.logger.Warn("network stack released more times than acquired")
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	s.transport.CloseIdleConnections()
	s.transport = nil
	s.logger.Debug("network stack torn down")
}

// Refs reports the number of outstanding references.
func (s *Stack) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Inits reports how many times the transport has been built.
func (s *Stack) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

func newTransport(cfg Config) (*http.Transport, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CAFile != "" {
		pool, err := loadTrustRoot(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}

func loadTrustRoot(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration.
	if err != nil {
		return nil, fmt.Errorf("read trust root %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoCertificates)
	}
	return pool, nil
}
