package ca

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"ztpki/config"
	"ztpki/pkg/helper"
	"ztpki/pkg/helper/x509x"
)

// SelfSignedCA file-backed root of trust for development and self-hosted
// deployments. CA material lives under <cert_dir>/ca; issuance loads the CA
// from disk every time so several processes can share one certificate
// directory.
type SelfSignedCA struct {
	cfg *config.Config
	crl *RevocationList
}

var _ Authority = (*SelfSignedCA)(nil)

func NewSelfSigned(cfg *config.Config) *SelfSignedCA {
	return &SelfSignedCA{
		cfg: cfg,
		crl: NewRevocationList(cfg.CRLPath()),
	}
}

// CRL the authority's revocation list
func (ca *SelfSignedCA) CRL() *RevocationList { return ca.crl }

// GenerateRootCA create the root CA keypair and self-signed certificate.
// Idempotent bootstrap: when the CA already exists on disk and force is
// false, the existing CA is loaded and returned.
func (ca *SelfSignedCA) GenerateRootCA(organization string, validityYears int, force bool) (*x509.Certificate, *rsa.PrivateKey, error) {
	if !force {
		if _, err := os.Stat(ca.cfg.CACertPath()); err == nil {
			if _, err := os.Stat(ca.cfg.CAKeyPath()); err == nil {
				log.Infof("root CA already exists, loading from disk")
				return ca.LoadCA()
			}
		}
	}

	log.Infof("generating new root CA for %s", organization)

	key, err := x509x.GenerateRSAKey(ca.cfg.KeySize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate root CA")
	}

	sigAlg, err := x509x.SignatureAlgorithm(ca.cfg.SignatureAlgorithm)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate root CA")
	}

	now := helper.UTCNow()
	template := &x509.Certificate{
		SerialNumber:       x509x.RandomSerial(),
		SignatureAlgorithm: sigAlg,
		Subject:            subjectName(organization, organization+" Root CA"),
		NotBefore:          now,
		NotAfter:           now.AddDate(validityYears, 0, 0),
		IsCA:               true,
		// only the root signs: no intermediates below it
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate root CA")
	}

	if err := x509x.WriteCertificateFile(ca.cfg.CACertPath(), derBytes); err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate root CA")
	}

	if err := x509x.WritePrivateKeyFile(ca.cfg.CAKeyPath(), key); err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate root CA")
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate root CA")
	}

	log.Infof("generated root CA, valid for %d years: cert=%s, key=%s",
		validityYears, ca.cfg.CACertPath(), ca.cfg.CAKeyPath())

	return cert, key, nil
}

// LoadCA load CA certificate and private key from disk. Missing files are a
// hard error wrapping os.ErrNotExist: the operator must bootstrap the CA
// first.
func (ca *SelfSignedCA) LoadCA() (*x509.Certificate, *rsa.PrivateKey, error) {
	cert, err := x509x.ReadCertificateFile(ca.cfg.CACertPath())
	if err != nil {
		return nil, nil, errors.Wrap(err, "CA certificate not found")
	}

	key, err := x509x.ReadPrivateKeyFile(ca.cfg.CAKeyPath())
	if err != nil {
		return nil, nil, errors.Wrap(err, "CA key not found")
	}

	return cert, key, nil
}

// GenerateServiceCert issue a certificate for serviceName signed by the
// root CA. SANs always include the service name, its mesh DNS name,
// localhost and the loopback address; extra sanNames are parsed as IP
// first, DNS name otherwise.
func (ca *SelfSignedCA) GenerateServiceCert(ctx context.Context, serviceName string, validityDays int, sanNames []string) (*x509.Certificate, *rsa.PrivateKey, error) {
	caCert, caKey, err := ca.LoadCA()
	if err != nil {
		return nil, nil, err
	}

	key, err := x509x.GenerateRSAKey(ca.cfg.KeySize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate service certificate")
	}

	sigAlg, err := x509x.SignatureAlgorithm(ca.cfg.SignatureAlgorithm)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate service certificate")
	}

	now := helper.UTCNow()
	template := &x509.Certificate{
		SerialNumber:          x509x.RandomSerial(),
		SignatureAlgorithm:    sigAlg,
		Subject:               subjectName(ca.cfg.Organization, serviceName),
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validityDays),
		IsCA:                  false,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames: []string{
			serviceName,
			fmt.Sprintf("%s.%s", serviceName, ca.cfg.Domain),
			"localhost",
		},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	for _, name := range sanNames {
		if ip := net.ParseIP(name); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, name)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, caCert, key.Public(), caKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate service certificate")
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to generate service certificate")
	}

	log.Infof("generated service certificate for %s, valid for %d days", serviceName, validityDays)

	return cert, key, nil
}

// Verify check that cert was signed by this CA, is inside its validity
// window, and, when checkRevocation is set and CRL checks are enabled, is
// not revoked
func (ca *SelfSignedCA) Verify(cert *x509.Certificate, checkRevocation bool) VerifyResult {
	caCert, _, err := ca.LoadCA()
	if err != nil {
		return failed(StatusError, err.Error())
	}

	if err := caCert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return failed(StatusSignatureInvalid, err.Error())
	}

	now := helper.UTCNow()
	notBefore, notAfter := x509x.ValidityWindow(cert)
	switch {
	case now.Before(notBefore):
		return failed(StatusNotYetValid, fmt.Sprintf("certificate not valid before %s", notBefore))
	case now.After(notAfter):
		return failed(StatusExpired, fmt.Sprintf("certificate expired at %s", notAfter))
	}

	if checkRevocation && ca.cfg.CRLCheckEnabled && ca.crl.IsRevoked(cert.SerialNumber) {
		return failed(StatusRevoked, fmt.Sprintf("certificate with serial %s is revoked", cert.SerialNumber))
	}

	return valid()
}

// IssueServiceCert Authority implementation; validity defaults to the
// configured rotation interval
func (ca *SelfSignedCA) IssueServiceCert(ctx context.Context, req *CertRequest) ([]byte, []byte, error) {
	if req.ValidityDays == 0 {
		req.ValidityDays = ca.cfg.RotationDays
	}

	if err := helper.ValidateStruct(req); err != nil {
		return nil, nil, errors.Wrap(err, "fail to issue certificate")
	}

	cert, key, err := ca.GenerateServiceCert(ctx, req.ServiceName, req.ValidityDays, req.SANNames)
	if err != nil {
		return nil, nil, err
	}

	keyPEM, err := x509x.EncodePrivateKeyToPEM(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to issue certificate")
	}

	return x509x.EncodeCertificateToPEM(cert.Raw), keyPEM, nil
}

// RevokeCertificate revoke a certificate by serial number
func (ca *SelfSignedCA) RevokeCertificate(serial *big.Int) error { return ca.crl.Revoke(serial) }

// RevokeSerial Authority implementation
func (ca *SelfSignedCA) RevokeSerial(serial *big.Int) error { return ca.RevokeCertificate(serial) }

// VerifyPEM Authority implementation
func (ca *SelfSignedCA) VerifyPEM(certPEM []byte, checkRevocation bool) VerifyResult {
	cert, err := x509x.ParseCertificate(certPEM)
	if err != nil {
		return failed(StatusError, err.Error())
	}

	return ca.Verify(cert, checkRevocation)
}

// CACertificatePEM Authority implementation
func (ca *SelfSignedCA) CACertificatePEM(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(ca.cfg.CACertPath())
	return data, errors.Wrap(err, "CA certificate not found")
}

// CertificateInfo observability snapshot of the certificate at path;
// returns {"error": ...} instead of failing
func (ca *SelfSignedCA) CertificateInfo(path string) map[string]interface{} {
	cert, err := x509x.ReadCertificateFile(path)
	if err != nil {
		log.Errorf("fail to get certificate info: %v", err)
		return map[string]interface{}{"error": err.Error()}
	}

	notBefore, notAfter := x509x.ValidityWindow(cert)
	info := map[string]interface{}{
		"subject":          cert.Subject.String(),
		"issuer":           cert.Issuer.String(),
		"serial_number":    cert.SerialNumber.String(),
		"not_valid_before": notBefore,
		"not_valid_after":  notAfter,
		"fingerprint":      x509x.Fingerprint(cert),
		"is_ca":            cert.IsCA,
		"is_revoked":       ca.crl.IsRevoked(cert.SerialNumber),
	}

	if revokedAt := ca.crl.RevocationTime(cert.SerialNumber); revokedAt != nil {
		info["revoked_at"] = *revokedAt
	}

	return info
}

func subjectName(organization, commonName string) pkix.Name {
	return pkix.Name{
		Country:      []string{"US"},
		Province:     []string{"California"},
		Locality:     []string{"San Francisco"},
		Organization: []string{organization},
		CommonName:   commonName,
	}
}
