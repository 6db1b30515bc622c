package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	require.Equal(t, CATypeSelfSigned, cfg.CAType)
	require.Equal(t, 30, cfg.RotationDays)
	require.Equal(t, 7, cfg.RotationThresholdDays)
	require.Equal(t, 4096, cfg.KeySize)
	require.Equal(t, "SHA256", cfg.SignatureAlgorithm)
	require.True(t, cfg.RequirePeerVerification)
}

func TestValidate(t *testing.T) {
	tests := [...]struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"bogus ca_type", func(c *Config) { c.CAType = "openssl" }, true},
		{"zero rotation days", func(c *Config) { c.RotationDays = 0 }, true},
		{"weak key", func(c *Config) { c.KeySize = 1024 }, true},
		{"bad signature algorithm", func(c *Config) { c.SignatureAlgorithm = "MD5" }, true},
		{"bad domain", func(c *Config) { c.Domain = "not a domain" }, true},
		{"vault without settings", func(c *Config) { c.CAType = CATypeVault }, true},
		{"vault with settings", func(c *Config) {
			c.CAType = CATypeVault
			c.Vault = &VaultConfig{Address: "https://vault:8200", Token: "s.xxx"}
		}, false},
		{"service without port", func(c *Config) {
			c.Services = []*ServiceIdentity{{Name: "svc"}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mutate)
			require.Truef(t, (err != nil) == tt.wantErr, "New() failed: error = %+v, wantErr = %v", err, tt.wantErr)
		})
	}
}

func TestLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := New(func(c *Config) {
		c.CertDir = "/tmp/certs"
		c.Organization = "Acme"
		c.AddService(&ServiceIdentity{Name: "api-gateway", Port: 8443, RequireMTLS: true})
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
zero_trust:
  organization: Acme
  cert_rotation_days: 14
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// explicit values win, defaults fill the rest
	require.Equal(t, "Acme", cfg.Organization)
	require.Equal(t, 14, cfg.RotationDays)
	require.Equal(t, 7, cfg.RotationThresholdDays)
	require.Equal(t, CATypeSelfSigned, cfg.CAType)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestServiceRegistry(t *testing.T) {
	cfg := Default()

	require.Nil(t, cfg.GetService("api-gateway"))

	cfg.AddService(&ServiceIdentity{Name: "api-gateway", Port: 8443})
	svc := cfg.GetService("api-gateway")
	require.NotNil(t, svc)
	require.Equal(t, 8443, svc.Port)

	// adding the same name replaces the entry
	cfg.AddService(&ServiceIdentity{Name: "api-gateway", Port: 9443})
	require.Len(t, cfg.Services, 1)
	require.Equal(t, 9443, cfg.GetService("api-gateway").Port)
}

func TestEnsureCertDir(t *testing.T) {
	cfg := Default()
	cfg.CertDir = filepath.Join(t.TempDir(), "certs")

	require.NoError(t, cfg.EnsureCertDir())

	st, err := os.Stat(cfg.CertDir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), st.Mode().Perm())
}

func TestPathLayout(t *testing.T) {
	cfg := Default()
	cfg.CertDir = "/certs"

	require.Equal(t, "/certs/ca/ca-cert.pem", cfg.CACertPath())
	require.Equal(t, "/certs/ca/ca-key.pem", cfg.CAKeyPath())
	require.Equal(t, "/certs/ca/crl.json", cfg.CRLPath())
	require.Equal(t, "/certs/api-gateway/cert.pem", cfg.ServiceCertPath("api-gateway"))
	require.Equal(t, "/certs/api-gateway/key.pem", cfg.ServiceKeyPath("api-gateway"))
	require.Equal(t, "/certs/api-gateway/old", cfg.ServiceBackupDir("api-gateway"))
}
