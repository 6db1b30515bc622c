package testutils

import (
	"context"

	"ztpki/ca"
	"ztpki/config"
	"ztpki/pkg/helper"
)

// SetupPKI bootstrap a self-signed CA under dir and provision a
// certificate for each named service. Panics on failure; test setup only.
func SetupPKI(ctx context.Context, dir string, services ...string) *config.Config {
	cfg := Must1(config.New(func(cfg *config.Config) {
		cfg.CertDir = dir
		cfg.KeySize = 2048

		for i, name := range services {
			cfg.AddService(&config.ServiceIdentity{
				Name:        name,
				Port:        9000 + i,
				RequireMTLS: true,
			})
		}
	}))

	authority := ca.NewSelfSigned(cfg)
	Must2(authority.GenerateRootCA(cfg.Organization, 10, false))

	for _, name := range services {
		certPEM, keyPEM := Must2(authority.IssueServiceCert(ctx, &ca.CertRequest{ServiceName: name}))
		Must(helper.WriteFile(cfg.ServiceCertPath(name), certPEM, 0o644))
		Must(helper.WriteFile(cfg.ServiceKeyPath(name), keyPEM, 0o600))
	}

	return cfg
}
