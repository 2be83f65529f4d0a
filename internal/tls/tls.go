// Package tls builds the server side crypto/tls configuration for the API
// listener, generating a self-signed localhost certificate on request.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/loykin/devdash/internal/config"
)

const (
	CertName = "tls.crt"
	KeyName  = "tls.key"
)

// parseVersion maps "1.2"/"1.3" spellings to crypto/tls constants.
func parseVersion(ver string) (uint16, error) {
	switch ver {
	case "", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported tls min_version %q", ver)
	}
}

// Setup returns nil when TLS is disabled.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" || keyPath == "" {
		if cfg.Dir == "" {
			return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
		}
		certPath = filepath.Join(cfg.Dir, CertName)
		keyPath = filepath.Join(cfg.Dir, KeyName)
		if cfg.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(cfg, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}

	// a bad pair fails here rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:     minVer,
		GetCertificate: reloading(certPath, keyPath),
	}, nil
}

// reloading reads the pair from disk on every handshake.
func reloading(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
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

func generate(cfg config.TLSConfig, certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}
	days := cfg.ValidDays
	if days <= 0 {
		days = 365
	}
	hosts := cfg.DNSNames
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}
	return GenerateSelfSigned(CertRequest{
		CommonName: hosts[0],
		Hosts:      append(slices.Clone(hosts), "127.0.0.1", "::1"),
		NotAfter:   time.Now().AddDate(0, 0, days),
		CertPath:   certPath,
		KeyPath:    keyPath,
	})
}
