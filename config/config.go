// Package config holds the process-wide zero trust configuration: the
// service registry, CA selection and rotation policy. The configuration is
// an explicitly constructed object passed to the components that need it,
// never package state, so tests can run several independent setups.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"ztpki/pkg/helper"
)

// CA backend types
const (
	CATypeSelfSigned  = "self-signed"
	CATypeVault       = "vault"
	CATypeCertManager = "cert-manager"
)

// ServiceIdentity one registered service: certificate CN, listening port
// and mTLS policy
type ServiceIdentity struct {
	Name         string   `yaml:"name" validate:"required"`
	Port         int      `yaml:"port" validate:"required,gt=0,lte=65535"`
	RequireMTLS  bool     `yaml:"require_mtls"`
	AllowedPeers []string `yaml:"allowed_peers,omitempty"`
}

// VaultConfig connection settings for the Vault PKI secrets engine,
// required when ca_type is "vault"
type VaultConfig struct {
	Address string `yaml:"address" validate:"required,url"`
	Token   string `yaml:"token" validate:"required"`
	PKIPath string `yaml:"pki_path"`
	Role    string `yaml:"role"`
}

// Config zero trust configuration, serialized under the top-level
// `zero_trust` YAML key
type Config struct {
	Enabled                  bool               `yaml:"enabled"`
	CAType                   string             `yaml:"ca_type" validate:"oneof=self-signed vault cert-manager"`
	CertDir                  string             `yaml:"cert_dir" validate:"required"`
	Organization             string             `yaml:"organization" validate:"required"`
	Domain                   string             `yaml:"domain" validate:"required,fqdn"`
	AutoRotate               bool               `yaml:"auto_rotate"`
	RotationDays             int                `yaml:"cert_rotation_days" validate:"min=1"`
	RotationThresholdDays    int                `yaml:"rotation_threshold_days" validate:"min=1"`
	RequirePeerVerification  bool               `yaml:"require_peer_verification"`
	AllowInsecureConnections bool               `yaml:"allow_insecure_connections"`
	MaxCertChainDepth        int                `yaml:"max_cert_chain_depth" validate:"min=1"`
	CRLCheckEnabled          bool               `yaml:"crl_check_enabled"`
	OCSPCheckEnabled         bool               `yaml:"ocsp_check_enabled"`
	KeySize                  int                `yaml:"key_size" validate:"gte=2048"`
	SignatureAlgorithm       string             `yaml:"signature_algorithm" validate:"oneof=SHA256 SHA384 SHA512"`
	Services                 []*ServiceIdentity `yaml:"services" validate:"dive"`
	Vault                    *VaultConfig       `yaml:"vault,omitempty"`

	// InventoryURL database URL of the issuance ledger,
	// e.g. sqlite:///var/lib/ztpki/inventory.db or mysql://user:pw@host/db.
	// Empty disables the ledger.
	InventoryURL string `yaml:"inventory_url,omitempty"`
}

type configFile struct {
	ZeroTrust *Config `yaml:"zero_trust"`
}

// Default configuration: self-signed CA, 30 day certificates rotated when
// fewer than 7 days remain, 4096-bit keys, SHA-256 signatures
func Default() *Config {
	return &Config{
		Enabled:                 true,
		CAType:                  CATypeSelfSigned,
		CertDir:                 "/etc/devskyy/certs",
		Organization:            "DevSkyy",
		Domain:                  "devskyy.local",
		AutoRotate:              true,
		RotationDays:            30,
		RotationThresholdDays:   7,
		RequirePeerVerification: true,
		MaxCertChainDepth:       3,
		CRLCheckEnabled:         true,
		KeySize:                 4096,
		SignatureAlgorithm:      "SHA256",
	}
}

// New validated copy of Default() with mutations applied
func New(mutate func(c *Config)) (*Config, error) {
	c := Default()
	if mutate != nil {
		mutate(c)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate check configuration invariants; a Config must not be used
// before this passes
func (c *Config) Validate() error {
	if err := helper.ValidateStruct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if c.CAType == CATypeVault && c.Vault == nil {
		return errors.New("invalid configuration: ca_type is vault but vault settings are missing")
	}

	return nil
}

// Load read configuration from YAML; defaults apply for fields the file
// leaves out. A missing file is an error, falling back to Default() is the
// caller's decision.
func Load(path string) (*Config, error) {
	file := &configFile{ZeroTrust: Default()}
	if err := helper.ReadYAMLFile(path, file); err != nil {
		return nil, errors.Wrapf(err, "fail to load configuration: %s", path)
	}

	if file.ZeroTrust == nil {
		return nil, errors.Errorf("no zero_trust section: %s", path)
	}

	if err := file.ZeroTrust.Validate(); err != nil {
		return nil, err
	}

	return file.ZeroTrust, nil
}

// Save write configuration as YAML under the `zero_trust` key
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "fail to save configuration")
	}

	return errors.Wrapf(helper.WriteYAMLToFile(path, &configFile{ZeroTrust: c}), "fail to save configuration: %s", path)
}

// GetService lookup by name; nil when not registered
func (c *Config) GetService(name string) *ServiceIdentity {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc
		}
	}
	return nil
}

// AddService register a service; a same-name entry is replaced
func (c *Config) AddService(svc *ServiceIdentity) {
	for i, s := range c.Services {
		if s.Name == svc.Name {
			c.Services[i] = svc
			return
		}
	}
	c.Services = append(c.Services, svc)
}

// EnsureCertDir create the certificate directory when the subsystem is
// enabled
func (c *Config) EnsureCertDir() error {
	if !c.Enabled {
		return nil
	}
	return os.MkdirAll(c.CertDir, 0o700)
}

// On-disk layout under CertDir:
//
//	ca/ca-cert.pem                         CA certificate, 0644
//	ca/ca-key.pem                          CA private key, 0600
//	ca/crl.json                            revoked serials
//	<service>/cert.pem                     0644
//	<service>/key.pem                      0600
//	<service>/old/cert_<timestamp>.pem     rotation backups
func (c *Config) CADir() string         { return filepath.Join(c.CertDir, "ca") }
func (c *Config) CACertPath() string    { return filepath.Join(c.CADir(), "ca-cert.pem") }
func (c *Config) CAKeyPath() string     { return filepath.Join(c.CADir(), "ca-key.pem") }
func (c *Config) CRLPath() string       { return filepath.Join(c.CADir(), "crl.json") }
func (c *Config) ServiceDir(name string) string { return filepath.Join(c.CertDir, name) }
func (c *Config) ServiceCertPath(name string) string {
	return filepath.Join(c.ServiceDir(name), "cert.pem")
}
func (c *Config) ServiceKeyPath(name string) string {
	return filepath.Join(c.ServiceDir(name), "key.pem")
}
func (c *Config) ServiceBackupDir(name string) string {
	return filepath.Join(c.ServiceDir(name), "old")
}
