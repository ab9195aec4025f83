package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/xchainctl/internal/config"
)

// File names inside [server.tls].dir.
const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

const defaultValidDays = 365 * 5

func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.TrimPrefix(strings.ToLower(ver), "tls") {
	case "1.2":
		return tls.VersionTLS12, true
	case "1.3":
		return tls.VersionTLS13, true
	}
	return 0, false
}

// SetupTLS builds the API server TLS settings; nil when TLS is off.
// Explicit cert_file/key_file win over dir. With auto_generate a missing pair in dir is created.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	tc := server.TLS
	if tc == nil || !tc.Enabled {
		return nil, nil
	}

	certPath, keyPath := tc.CertFile, tc.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case tc.Dir != "":
		certPath, keyPath = filepath.Join(tc.Dir, tlsCrt), filepath.Join(tc.Dir, tlsKey)
		if tc.AutoGenerate && !exists(certPath, keyPath) {
			if err := autoGenerate(tc); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}

	out := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		MaxVersion:     tls.VersionTLS13,
		GetCertificate: reloadingCert(certPath, keyPath),
	}
	if v, ok := parseTLSVersion(tc.MinVersion); ok {
		out.MinVersion = v
	}
	if v, ok := parseTLSVersion(tc.MaxVersion); ok {
		out.MaxVersion = v
	}
	return out, nil
}

// reloadingCert reads the key pair on every handshake so replaced files take effect
// without a restart. Both files must live in the certificate's directory.
func reloadingCert(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	dir := filepath.Dir(certPath)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		for _, p := range []string{certPath, keyPath} {
			if rel, err := filepath.Rel(dir, filepath.Clean(p)); err != nil || strings.HasPrefix(rel, "..") {
				return nil, fmt.Errorf("%s is outside %s", p, dir)
			}
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func autoGenerate(tc *config.TLSConfig) error {
	if err := os.MkdirAll(tc.Dir, 0o750); err != nil {
		return err
	}
	ag := config.AutoGenTLS{}
	if tc.AutoGen != nil {
		ag = *tc.AutoGen
	}
	cn := ag.CommonName
	if cn == "" {
		cn = "localhost"
	}
	org := ag.Organization
	if org == "" {
		org = "xchainctl"
	}
	hosts := append(append([]string{}, ag.DNSNames...), ag.IPAddresses...)
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := ag.ValidDays
	if days <= 0 {
		days = defaultValidDays
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   cn,
		Organization: org,
		Hosts:        hosts,
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(tc.Dir, tlsCrt),
		KeyPath:      filepath.Join(tc.Dir, tlsKey),
		CACertPath:   filepath.Join(tc.Dir, tlsCaCrt),
	})
}

// ClientConfig builds the TLS settings for admin calls to nodes. Nil when TLS is off.
func ClientConfig(cfg config.RPCTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	// #nosec G402 nodes in test networks commonly use self-signed certificates
	out := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.SkipVerify}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(filepath.Clean(cfg.CACert))
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
		}
		out.RootCAs = pool
	}
	return out, nil
}
