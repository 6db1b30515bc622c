package ca

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ztpki/config"
)

func TestNewAuthority(t *testing.T) {
	tests := [...]struct {
		name    string
		caType  string
		wantErr bool
	}{
		{"self-signed", config.CATypeSelfSigned, false},
		{"cert-manager not supported", config.CATypeCertManager, true},
		{"unknown", "acme", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.CAType = tt.caType

			authority, err := New(cfg)
			require.Truef(t, (err != nil) == tt.wantErr, "New() failed: error = %+v, wantErr = %v", err, tt.wantErr)
			if !tt.wantErr {
				require.NotNil(t, authority)
			}
		})
	}
}
