package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devdash/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(config.TLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	c, err := Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, DNSNames: []string{"dev.local"}})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)

	cert, err := c.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "dev.local", leaf.Subject.CommonName)
	assert.Contains(t, leaf.DNSNames, "dev.local")
	require.NoError(t, leaf.VerifyHostname("127.0.0.1"))

	info, err := os.Stat(filepath.Join(dir, KeyName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// existing files are reused
	before, err := os.ReadFile(filepath.Join(dir, CertName))
	require.NoError(t, err)
	_, err = Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.3"})
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, CertName))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetupErrors(t *testing.T) {
	_, err := Setup(config.TLSConfig{Enabled: true})
	assert.Error(t, err)

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err, "dir without files and without auto_generate")

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"})
	assert.Error(t, err)
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "a.pem"), filepath.Join(dir, "a.key")
	require.NoError(t, GenerateSelfSigned(CertRequest{CommonName: "x", Hosts: []string{"x"}, NotAfter: time.Now().Add(time.Hour), CertPath: cert, KeyPath: key}))

	c, err := Setup(config.TLSConfig{Enabled: true, CertFile: cert, KeyFile: key, MinVersion: "1.3"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
}
