package mtls

import (
	"context"
	"crypto/tls"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"ztpki/pkg/helper/x509x"
	"ztpki/pkg/testutils"
)

func TestValidateServiceIdentity(t *testing.T) {
	ctx := context.Background()
	cfg := testutils.SetupPKI(ctx, t.TempDir(), "api-gateway")

	cert, err := x509x.ReadCertificateFile(cfg.ServiceCertPath("api-gateway"))
	require.NoError(t, err)

	tests := [...]struct {
		name     string
		expected string
		want     bool
	}{
		{"common name", "api-gateway", true},
		{"mesh DNS name", "api-gateway." + cfg.Domain, true},
		{"localhost SAN", "localhost", true},
		{"other service", "payments", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ValidateServiceIdentity(cert, tt.expected))
		})
	}
}

func TestTLSConfigMissingMaterial(t *testing.T) {
	ctx := context.Background()
	cfg := testutils.SetupPKI(ctx, t.TempDir(), "api-gateway")
	handler := New(cfg)

	_, err := handler.ClientTLSConfig("never-provisioned")
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = handler.ServerTLSConfig("never-provisioned", true)
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestClientTLSConfig(t *testing.T) {
	ctx := context.Background()
	cfg := testutils.SetupPKI(ctx, t.TempDir(), "api-gateway")
	handler := New(cfg)

	tlsConfig, err := handler.ClientTLSConfig("api-gateway")
	require.NoError(t, err)

	require.EqualValues(t, tls.VersionTLS13, tlsConfig.MinVersion)
	require.Len(t, tlsConfig.Certificates, 1)
	require.NotNil(t, tlsConfig.RootCAs)
	require.False(t, tlsConfig.InsecureSkipVerify)

	t.Run("peer verification disabled", func(t *testing.T) {
		cfg.RequirePeerVerification = false
		defer func() { cfg.RequirePeerVerification = true }()

		tlsConfig, err := handler.ClientTLSConfig("api-gateway")
		require.NoError(t, err)
		require.True(t, tlsConfig.InsecureSkipVerify)
	})
}

func TestServerTLSConfig(t *testing.T) {
	ctx := context.Background()
	cfg := testutils.SetupPKI(ctx, t.TempDir(), "api-gateway")
	handler := New(cfg)

	t.Run("mutual TLS enforced", func(t *testing.T) {
		tlsConfig, err := handler.ServerTLSConfig("api-gateway", true)
		require.NoError(t, err)
		require.Equal(t, tls.RequireAndVerifyClientCert, tlsConfig.ClientAuth)
		require.EqualValues(t, tls.VersionTLS13, tlsConfig.MinVersion)
	})

	t.Run("caller opts out", func(t *testing.T) {
		tlsConfig, err := handler.ServerTLSConfig("api-gateway", false)
		require.NoError(t, err)
		require.Equal(t, tls.NoClientCert, tlsConfig.ClientAuth)
	})

	t.Run("service config opts out", func(t *testing.T) {
		cfg.GetService("api-gateway").RequireMTLS = false
		defer func() { cfg.GetService("api-gateway").RequireMTLS = true }()

		tlsConfig, err := handler.ServerTLSConfig("api-gateway", true)
		require.NoError(t, err)
		require.Equal(t, tls.NoClientCert, tlsConfig.ClientAuth)
	})
}

func TestVerifyPeerCertificate(t *testing.T) {
	ctx := context.Background()
	cfg := testutils.SetupPKI(ctx, t.TempDir(), "api-gateway", "payments")
	handler := New(cfg)

	ok, err := handler.VerifyPeerCertificate(cfg.ServiceCertPath("payments"), "payments")
	require.NoError(t, err)
	require.True(t, ok)

	// right CA, wrong identity
	ok, err = handler.VerifyPeerCertificate(cfg.ServiceCertPath("payments"), "api-gateway")
	require.NoError(t, err)
	require.False(t, ok)

	// certificate from a foreign CA
	foreign := testutils.SetupPKI(ctx, t.TempDir(), "payments")
	ok, err = handler.VerifyPeerCertificate(foreign.ServiceCertPath("payments"), "payments")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyCertificateChain(t *testing.T) {
	ctx := context.Background()
	cfg := testutils.SetupPKI(ctx, t.TempDir(), "api-gateway")
	handler := New(cfg)

	ok, err := handler.VerifyCertificateChain(cfg.ServiceCertPath("api-gateway"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	foreign := testutils.SetupPKI(ctx, t.TempDir(), "api-gateway")
	ok, err = handler.VerifyCertificateChain(foreign.ServiceCertPath("api-gateway"), 0)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = handler.VerifyCertificateChain(cfg.ServiceCertPath("api-gateway"), -1)
	require.Error(t, err)
}

func TestMutualTLSLoopback(t *testing.T) {
	ctx := context.Background()
	cfg := testutils.SetupPKI(ctx, t.TempDir(), "api-gateway", "orders")
	handler := New(cfg)

	ln, err := handler.Listen("orders", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()

		buf := make([]byte, 5)
		if _, err := conn.Read(buf); err != nil {
			errCh <- err
			return
		}

		// server sees the client identity
		state := conn.(*tls.Conn).ConnectionState()
		if err := handler.VerifyConnectionState(&state, "api-gateway"); err != nil {
			errCh <- err
			return
		}

		_, err = conn.Write(buf)
		errCh <- err
	}()

	conn, err := handler.Dial(ctx, "api-gateway", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))

	require.NoError(t, <-errCh)

	state := conn.ConnectionState()
	require.EqualValues(t, tls.VersionTLS13, state.Version)
	require.NoError(t, handler.VerifyConnectionState(&state, "orders"))

	info := PeerCertificateInfo(conn)
	require.NotContains(t, info, "error")
	require.Contains(t, info["subject"], "CN=orders")
}
