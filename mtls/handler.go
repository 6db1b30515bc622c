// Package mtls builds TLS 1.3 configurations for mutually-authenticated
// service-to-service connections and validates peer identities against the
// issuing authority.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"ztpki/ca"
	"ztpki/config"
	"ztpki/pkg/helper/x509x"
)

// Handler builds per-service tls.Config values from the material on disk.
// The zero value is not usable; use New.
type Handler struct {
	cfg        *config.Config
	authorizer *PeerAuthorizer
}

func New(cfg *config.Config) *Handler {
	return &Handler{
		cfg:        cfg,
		authorizer: NewPeerAuthorizer(cfg),
	}
}

func (h *Handler) Authorizer() *PeerAuthorizer { return h.authorizer }

// loadKeyPair service certificate, key and the CA pool. Missing files
// surface as fs.ErrNotExist so callers can distinguish an unprovisioned
// service from corrupt material.
func (h *Handler) loadKeyPair(serviceName string) (tls.Certificate, *x509.CertPool, error) {
	cert, err := tls.LoadX509KeyPair(
		h.cfg.ServiceCertPath(serviceName), h.cfg.ServiceKeyPath(serviceName))
	if err != nil {
		return tls.Certificate{}, nil, errors.Wrapf(err, "fail to load key pair: %s", serviceName)
	}

	caPEM, err := os.ReadFile(h.cfg.CACertPath())
	if err != nil {
		return tls.Certificate{}, nil, errors.Wrap(err, "fail to load CA certificate")
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return tls.Certificate{}, nil, errors.New("no certificate found in CA bundle")
	}

	return cert, pool, nil
}

// ClientTLSConfig tls.Config for an outbound connection made by
// serviceName. Server verification is pinned to the private CA; disabling
// peer verification is honored but logged loudly.
func (h *Handler) ClientTLSConfig(serviceName string) (*tls.Config, error) {
	cert, pool, err := h.loadKeyPair(serviceName)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}

	if !h.cfg.RequirePeerVerification {
		log.Warnf("peer verification disabled for %s: server certificates will not be checked", serviceName)
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// ServerTLSConfig tls.Config for serviceName accepting inbound
// connections. Client certificates are demanded only when both the caller
// and the service configuration ask for mutual TLS.
func (h *Handler) ServerTLSConfig(serviceName string, requireClientCert bool) (*tls.Config, error) {
	cert, pool, err := h.loadKeyPair(serviceName)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
	}

	svc := h.cfg.GetService(serviceName)
	if requireClientCert && (svc == nil || svc.RequireMTLS) {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		log.Warnf("mutual TLS not enforced for %s: clients may connect without certificates", serviceName)
		tlsConfig.ClientAuth = tls.NoClientCert
	}

	return tlsConfig, nil
}

// ValidateServiceIdentity true when the certificate was issued to
// expectedService: the common name is checked first, then the subject
// alternative names.
func ValidateServiceIdentity(cert *x509.Certificate, expectedService string) bool {
	if cert.Subject.CommonName == expectedService {
		return true
	}

	for _, name := range cert.DNSNames {
		if name == expectedService {
			return true
		}
	}

	log.Errorf("certificate identity mismatch: subject=%s, expected=%s",
		cert.Subject.CommonName, expectedService)
	return false
}

// VerifyPeerCertificate verify the certificate at certPath against the CA
// and confirm it was issued to expectedService
func (h *Handler) VerifyPeerCertificate(certPath, expectedService string) (bool, error) {
	cert, err := x509x.ReadCertificateFile(certPath)
	if err != nil {
		return false, errors.Wrap(err, "fail to verify peer certificate")
	}

	caCert, err := x509x.ReadCertificateFile(h.cfg.CACertPath())
	if err != nil {
		return false, errors.Wrap(err, "fail to verify peer certificate")
	}

	if err := ca.ValidateChain(cert, caCert); err != nil {
		log.Errorf("peer certificate rejected: %v", err)
		return false, nil
	}

	if expiry := ca.CheckExpiry(cert, 0); expiry.IsExpired || expiry.NotYetValid {
		log.Errorf("peer certificate outside validity window: %s .. %s", expiry.NotBefore, expiry.NotAfter)
		return false, nil
	}

	if expectedService == "" {
		return true, nil
	}

	return ValidateServiceIdentity(cert, expectedService), nil
}

// VerifyCertificateChain verify that the certificate at certPath chains up
// to the CA. The self-signed authority only issues depth-1 chains today;
// maxDepth (0 means the configured max_cert_chain_depth) is the extension
// point for future intermediate CAs.
func (h *Handler) VerifyCertificateChain(certPath string, maxDepth int) (bool, error) {
	if maxDepth == 0 {
		maxDepth = h.cfg.MaxCertChainDepth
	}
	if maxDepth < 1 {
		return false, errors.Errorf("invalid chain depth: %d", maxDepth)
	}

	cert, err := x509x.ReadCertificateFile(certPath)
	if err != nil {
		return false, errors.Wrap(err, "fail to verify certificate chain")
	}

	caCert, err := x509x.ReadCertificateFile(h.cfg.CACertPath())
	if err != nil {
		return false, errors.Wrap(err, "fail to verify certificate chain")
	}

	if err := ca.ValidateChain(cert, caCert); err != nil {
		log.Errorf("%v", err)
		return false, nil
	}

	return true, nil
}

// VerifyConnectionState validate the leaf certificate of an established
// connection against expectedService. Useful in VerifyConnection hooks and
// request middlewares.
func (h *Handler) VerifyConnectionState(state *tls.ConnectionState, expectedService string) error {
	if len(state.PeerCertificates) == 0 {
		return errors.New("no peer certificate presented")
	}

	leaf := state.PeerCertificates[0]

	caCert, err := x509x.ReadCertificateFile(h.cfg.CACertPath())
	if err != nil {
		return errors.Wrap(err, "fail to verify connection")
	}

	if err := ca.ValidateChain(leaf, caCert); err != nil {
		return errors.Wrap(err, "peer certificate rejected")
	}

	if expiry := ca.CheckExpiry(leaf, 0); expiry.IsExpired || expiry.NotYetValid {
		return errors.Errorf("peer certificate outside validity window: %s .. %s", expiry.NotBefore, expiry.NotAfter)
	}

	if !ValidateServiceIdentity(leaf, expectedService) {
		return errors.Errorf("unexpected peer identity: %s", leaf.Subject.CommonName)
	}

	return nil
}
