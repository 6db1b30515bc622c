package ca

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyStatusJSON(t *testing.T) {
	tests := [...]struct {
		name   string
		status VerifyStatus
		want   string
	}{
		{"valid", StatusValid, `"valid"`},
		{"expired", StatusExpired, `"expired"`},
		{"revoked", StatusRevoked, `"revoked"`},
		{"signature", StatusSignatureInvalid, `"signature-invalid"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.status)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(data))

			var got VerifyStatus
			require.NoError(t, json.Unmarshal(data, &got))
			require.Equal(t, tt.status, got)
		})
	}
}

func TestVerifyStatusUnmarshalUnknown(t *testing.T) {
	var got VerifyStatus

	err := json.Unmarshal([]byte(`"tampered"`), &got)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown verify status")
}

func TestCheckExpiry(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	authority := NewSelfSigned(cfg)

	_, _, err := authority.GenerateRootCA(cfg.Organization, 10, false)
	require.NoError(t, err)

	tests := [...]struct {
		name         string
		validityDays int
		threshold    int
		wantExpired  bool
		wantRenewal  bool
	}{
		{"fresh certificate", 30, 7, false, false},
		{"inside renewal threshold", 5, 7, false, true},
		{"expired", -1, 7, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, _, err := authority.GenerateServiceCert(ctx, "svc", tt.validityDays, nil)
			require.NoError(t, err)

			info := CheckExpiry(cert, tt.threshold)
			require.Equal(t, tt.wantExpired, info.IsExpired)
			require.Equal(t, tt.wantRenewal, info.NeedsRenewal)
			require.False(t, info.NotYetValid)
		})
	}
}

func TestValidateChain(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	authority := NewSelfSigned(cfg)

	caCert, _, err := authority.GenerateRootCA(cfg.Organization, 10, false)
	require.NoError(t, err)

	cert, _, err := authority.GenerateServiceCert(ctx, "svc", 30, nil)
	require.NoError(t, err)

	require.NoError(t, ValidateChain(cert, caCert))

	// a certificate cannot vouch for itself
	require.Error(t, ValidateChain(cert, cert))
}
