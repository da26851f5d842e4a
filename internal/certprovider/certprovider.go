// Package certprovider implements the narrow collaborator contract spec
// §6 names for TLS material: get_current_certificate() -> option<{cert,
// key}>. Certificate issuance, renewal, and dynamic reload plumbing are
// explicitly out of scope (spec §1) — this package only loads a static
// PEM pair once and builds the *tls.Config the SMTP session engine needs
// from the configured minVersion/ciphers/ecdhCurve options (spec §6). The
// single bundle, loaded eagerly by LoadStatic and read through a narrow
// accessor, mirrors the
// teacher's internal/auth.SigningKey/GetSigningKey singleton.
package certprovider

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/vaultsandbox/gateway/internal/config"
)

// Bundle is the certificate/key pair spec §6's get_current_certificate
// returns.
type Bundle struct {
	Certificate tls.Certificate
}

// Provider is the collaborator contract: the current certificate, if any
// has been loaded.
type Provider interface {
	Current() (*Bundle, bool)
}

// StaticProvider holds one certificate pair loaded once at startup.
type StaticProvider struct {
	mu     sync.RWMutex
	bundle *Bundle
}

// LoadStatic reads a PEM certificate/key pair from disk.
func LoadStatic(certPath, keyPath string) (*StaticProvider, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certprovider: load %s/%s: %w", certPath, keyPath, err)
	}
	return &StaticProvider{bundle: &Bundle{Certificate: cert}}, nil
}

// Current returns the loaded bundle. A StaticProvider never reports false
// once constructed via LoadStatic.
func (p *StaticProvider) Current() (*Bundle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.bundle == nil {
		return nil, false
	}
	return p.bundle, true
}

var tlsVersions = map[string]uint16{
	"TLS1.0": tls.VersionTLS10,
	"TLS1.1": tls.VersionTLS11,
	"TLS1.2": tls.VersionTLS12,
	"TLS1.3": tls.VersionTLS13,
}

var curves = map[string]tls.CurveID{
	"X25519": tls.X25519,
	"P256":   tls.CurveP256,
	"P384":   tls.CurveP384,
	"P521":   tls.CurveP521,
}

// cipherByName resolves an IANA/OpenSSL-ish cipher suite name to its Go
// identifier across both the secure and insecure suite tables, since
// operators may reasonably list either.
func cipherByName(name string) (uint16, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, s := range tls.CipherSuites() {
		if s.Name == name {
			return s.ID, true
		}
	}
	for _, s := range tls.InsecureCipherSuites() {
		if s.Name == name {
			return s.ID, true
		}
	}
	return 0, false
}

// TLSConfig builds the *tls.Config the SMTP session engine attaches for
// opportunistic STARTTLS or wraps with tls.Listen for implicit TLS,
// honoring minVersion/ciphers/honorCipherOrder/ecdhCurve (spec §6). The
// certificate itself is re-fetched from p on every handshake via
// GetCertificate so a future reload mechanism (out of scope here) would
// not require rebuilding this config.
func TLSConfig(cfg config.TLSConfig, p Provider) (*tls.Config, error) {
	tc := &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			b, ok := p.Current()
			if !ok {
				return nil, fmt.Errorf("certprovider: no certificate loaded")
			}
			return &b.Certificate, nil
		},
	}

	if cfg.MinVersion != "" {
		v, ok := tlsVersions[cfg.MinVersion]
		if !ok {
			return nil, fmt.Errorf("certprovider: unknown minVersion %q", cfg.MinVersion)
		}
		tc.MinVersion = v
	}

	if len(cfg.Ciphers) > 0 {
		suites := make([]uint16, 0, len(cfg.Ciphers))
		for _, name := range cfg.Ciphers {
			id, ok := cipherByName(name)
			if !ok {
				return nil, fmt.Errorf("certprovider: unknown cipher %q", name)
			}
			suites = append(suites, id)
		}
		tc.CipherSuites = suites
	}
	tc.PreferServerCipherSuites = cfg.HonorCipherOrder

	if cfg.ECDHCurve != "" {
		curve, ok := curves[strings.ToUpper(cfg.ECDHCurve)]
		if !ok {
			return nil, fmt.Errorf("certprovider: unknown ecdhCurve %q", cfg.ECDHCurve)
		}
		tc.CurvePreferences = []tls.CurveID{curve}
	}

	return tc, nil
}
