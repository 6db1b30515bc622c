package mtls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/pkg/errors"

	"ztpki/pkg/helper/x509x"
)

// Dial open a mutually-authenticated connection from serviceName to
// addr ("host:port"). The returned connection completed its handshake.
func (h *Handler) Dial(ctx context.Context, serviceName, addr string) (*tls.Conn, error) {
	tlsConfig, err := h.ClientTLSConfig(serviceName)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to dial: %s", addr)
	}
	tlsConfig.ServerName = host

	dialer := &tls.Dialer{Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to dial: %s", addr)
	}

	return conn.(*tls.Conn), nil
}

// Listen bind a TLS listener for serviceName on addr, requiring client
// certificates per the service configuration
func (h *Handler) Listen(serviceName, addr string) (net.Listener, error) {
	tlsConfig, err := h.ServerTLSConfig(serviceName, true)
	if err != nil {
		return nil, err
	}

	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to listen: %s", addr)
	}

	return ln, nil
}

// PeerCertificateInfo summary of the peer leaf certificate of an
// established connection, for logs and audit trails
func PeerCertificateInfo(conn *tls.Conn) map[string]any {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return map[string]any{"error": "no peer certificate"}
	}

	return describeCertificate(state.PeerCertificates[0])
}

func describeCertificate(cert *x509.Certificate) map[string]any {
	return map[string]any{
		"subject":          cert.Subject.String(),
		"issuer":           cert.Issuer.String(),
		"serial_number":    cert.SerialNumber.String(),
		"not_valid_before": cert.NotBefore,
		"not_valid_after":  cert.NotAfter,
		"san":              x509x.SANNames(cert),
		"fingerprint":      x509x.Fingerprint(cert),
	}
}
