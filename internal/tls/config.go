package tls

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/xchainctl/internal/config"
)

// SelfSigned returns a TLS config that generates a localhost certificate under <home>/tls
// on first use. `xchainctl serve --self-signed` uses it.
func SelfSigned(home string) (*config.TLSConfig, error) {
	dir := filepath.Join(home, "tls")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create TLS directory: %w", err)
	}
	return &config.TLSConfig{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		AutoGen: &config.AutoGenTLS{
			CommonName:  "localhost",
			DNSNames:    []string{"localhost"},
			IPAddresses: []string{"127.0.0.1", "::1"},
			ValidDays:   365,
		},
	}, nil
}
