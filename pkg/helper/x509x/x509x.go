// Package x509x provides X.509/RSA primitives shared by the CA, the
// certificate manager and the mTLS handler: PEM round-trips, key
// generation, and the small certificate inspections everything else is
// built from.
package x509x

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"os"
	"time"

	"github.com/pkg/errors"

	"ztpki/pkg/helper"
)

const (
	CertificatePEMBlockType     = "CERTIFICATE"
	Pkcs8PrivateKeyPEMBlockType = "PRIVATE KEY"
	RsaPrivateKeyPEMBlockType   = "RSA PRIVATE KEY"

	pemPrefix = "-----BEGIN "
)

var pemPrefixCertificate = []byte(pemPrefix + CertificatePEMBlockType)

// ParseCertificate parse x509 certificate PEM block or DER bytes
func ParseCertificate(certBytes []byte) (*x509.Certificate, error) {
	if bytes.HasPrefix(certBytes, pemPrefixCertificate) {
		p, _ := pem.Decode(certBytes)
		if p == nil {
			return nil, errors.New("invalid PEM")
		}

		certBytes = p.Bytes
	}

	return x509.ParseCertificate(certBytes)
}

// ParseCertificateChain parse concatenated PEM certificates, leaf first
func ParseCertificateChain(pemBytes []byte) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, 2)
	for {
		p, rest := pem.Decode(pemBytes)
		if p == nil {
			return certs, nil
		}

		cert, err := x509.ParseCertificate(p.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "certificate parse failed")
		}
		certs = append(certs, cert)
		pemBytes = rest
	}
}

// ParsePrivateKey parse a PEM RSA private key, PKCS#8 or PKCS#1
func ParsePrivateKey(keyPEMBytes []byte) (*rsa.PrivateKey, error) {
	p, _ := pem.Decode(keyPEMBytes)
	if p == nil {
		return nil, errors.New("invalid PEM")
	}

	switch p.Type {
	case Pkcs8PrivateKeyPEMBlockType:
		key, err := x509.ParsePKCS8PrivateKey(p.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "fail to parse private key")
		}

		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.Errorf("unsupported private key: %T", key)
		}
		return rsaKey, nil

	case RsaPrivateKeyPEMBlockType:
		key, err := x509.ParsePKCS1PrivateKey(p.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "fail to parse private key")
		}
		return key, nil

	default:
		return nil, errors.Errorf("unknown pem type: %s", p.Type)
	}
}

func EncodeCertificateToPEM(derBytes []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  CertificatePEMBlockType,
		Bytes: derBytes,
	})
}

// EncodePrivateKeyToPEM encode key as unencrypted PKCS#8
func EncodePrivateKeyToPEM(key *rsa.PrivateKey) ([]byte, error) {
	derBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "fail to encode private key")
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  Pkcs8PrivateKeyPEMBlockType,
		Bytes: derBytes,
	}), nil
}

// GenerateRSAKey generate RSA private key; bits must already be validated
// against the configured minimum
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "fail to generate key")
	}
	return key, nil
}

// RandomSerial 128-bit random serial number
func RandomSerial() *big.Int {
	s, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	return s
}

// SignatureAlgorithm maps a configured hash name to the RSA signature
// algorithm used for issuance
func SignatureAlgorithm(hashName string) (x509.SignatureAlgorithm, error) {
	switch hashName {
	case "SHA256":
		return x509.SHA256WithRSA, nil
	case "SHA384":
		return x509.SHA384WithRSA, nil
	case "SHA512":
		return x509.SHA512WithRSA, nil
	default:
		return x509.UnknownSignatureAlgorithm, errors.Errorf("unsupported signature algorithm: %s", hashName)
	}
}

// Fingerprint SHA-256 fingerprint over the whole DER certificate, hex encoded
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// SANNames subject alternative names as strings, DNS names then IPs
func SANNames(cert *x509.Certificate) []string {
	names := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses))
	names = append(names, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		names = append(names, ip.String())
	}
	return names
}

// ValidityWindow certificate validity bounds normalized to UTC; every
// comparison in this module goes through here so naive/local timestamps
// never leak past the parse boundary
func ValidityWindow(cert *x509.Certificate) (notBefore, notAfter time.Time) {
	return cert.NotBefore.UTC(), cert.NotAfter.UTC()
}

// ReadCertificateFile load a PEM certificate from disk
func ReadCertificateFile(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseCertificate(data)
}

// ReadPrivateKeyFile load a PEM private key from disk
func ReadPrivateKeyFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParsePrivateKey(data)
}

// WriteCertificateFile write PEM certificate, world readable
func WriteCertificateFile(path string, derBytes []byte) error {
	return helper.WriteFile(path, EncodeCertificateToPEM(derBytes), 0o644)
}

// WritePrivateKeyFile write PEM private key, owner only
func WritePrivateKeyFile(path string, key *rsa.PrivateKey) error {
	keyPEM, err := EncodePrivateKeyToPEM(key)
	if err != nil {
		return err
	}

	return helper.WriteFile(path, keyPEM, 0o600)
}
