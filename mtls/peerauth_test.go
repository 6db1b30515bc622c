package mtls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ztpki/config"
)

func peerConfig(t *testing.T) *config.Config {
	cfg, err := config.New(func(c *config.Config) {
		c.CertDir = t.TempDir()
		c.AddService(&config.ServiceIdentity{
			Name: "payments", Port: 8443, RequireMTLS: true,
			AllowedPeers: []string{"api-gateway", "orders"},
		})
		c.AddService(&config.ServiceIdentity{Name: "metrics", Port: 8444})
	})
	require.NoError(t, err)

	return cfg
}

func TestPeerAuthorizer(t *testing.T) {
	ctx := context.Background()
	auth := NewPeerAuthorizer(peerConfig(t))

	tests := [...]struct {
		name    string
		service string
		peer    string
		want    bool
	}{
		{"allowed peer", "payments", "api-gateway", true},
		{"another allowed peer", "payments", "orders", true},
		{"unknown peer", "payments", "billing", false},
		{"empty allow list admits everyone", "metrics", "billing", true},
		{"unregistered service admits everyone", "unknown-svc", "billing", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := auth.Allowed(ctx, tt.service, tt.peer)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

type denyAll struct{}

func (denyAll) Allowed(ctx context.Context, service, peer string) (bool, error) { return false, nil }

func TestPeerAuthorizerBackend(t *testing.T) {
	ctx := context.Background()
	auth := NewPeerAuthorizer(peerConfig(t)).WithBackend(denyAll{})

	// static allow list wins
	ok, err := auth.Allowed(ctx, "payments", "api-gateway")
	require.NoError(t, err)
	require.True(t, ok)

	// no static opinion falls through to the backend
	ok, err = auth.Allowed(ctx, "metrics", "billing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPeerAuthorizerCache(t *testing.T) {
	ctx := context.Background()
	cfg := peerConfig(t)
	auth := NewPeerAuthorizer(cfg)

	ok, err := auth.Allowed(ctx, "payments", "billing")
	require.NoError(t, err)
	require.False(t, ok)

	// cached decision survives a config change until invalidated
	cfg.GetService("payments").AllowedPeers = nil

	ok, err = auth.Allowed(ctx, "payments", "billing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, auth.Invalidate(ctx, "payments", "billing"))

	ok, err = auth.Allowed(ctx, "payments", "billing")
	require.NoError(t, err)
	require.True(t, ok)
}
