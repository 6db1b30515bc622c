// Package ca implements the certificate authorities backing the zero trust
// mesh: a file-backed self-signed CA for development and self-hosted
// deployments, and a Vault PKI client for production. Both expose the same
// issue/revoke/verify surface, selected by ca_type in the configuration.
package ca

import (
	"context"
	"math/big"

	"github.com/pkg/errors"

	"ztpki/config"
)

// CertRequest service certificate issuance request
type CertRequest struct {
	ServiceName  string `validate:"required"`
	ValidityDays int    `validate:"min=1"`
	SANNames     []string
}

// Authority certificate authority: issues service certificates, revokes
// serials and verifies issued certificates
type Authority interface {
	// IssueServiceCert issue a certificate for req.ServiceName signed by
	// this authority; returns cert and private key as PEM
	IssueServiceCert(ctx context.Context, req *CertRequest) (certPEM, keyPEM []byte, err error)

	// RevokeSerial revoke a certificate by serial number
	RevokeSerial(serial *big.Int) error

	// VerifyPEM verify a PEM certificate against this authority; routine
	// failures come back as a non-valid VerifyResult, never an error
	VerifyPEM(certPEM []byte, checkRevocation bool) VerifyResult

	// CACertificatePEM the trust anchor as PEM
	CACertificatePEM(ctx context.Context) ([]byte, error)
}

// New authority selected by cfg.CAType
func New(cfg *config.Config) (Authority, error) {
	switch cfg.CAType {
	case config.CATypeSelfSigned:
		return NewSelfSigned(cfg), nil
	case config.CATypeVault:
		return NewVault(cfg)
	case config.CATypeCertManager:
		return nil, errors.Errorf("ca_type %s not supported yet", cfg.CAType)
	default:
		return nil, errors.Errorf("unknown ca_type: %s", cfg.CAType)
	}
}
