package ca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"
	"github.com/whitekid/goxp/request"

	"ztpki/config"
	"ztpki/pkg/helper"
	"ztpki/pkg/helper/x509x"
)

// VaultCA certificate authority backed by the HashiCorp Vault PKI secrets
// engine. Issuance and revocation go through the Vault HTTP API; the engine
// keeps its own CRL, so VerifyPEM checks signature and validity window only.
type VaultCA struct {
	cfg    *config.Config
	client request.Interface
}

var _ Authority = (*VaultCA)(nil)

func NewVault(cfg *config.Config) (*VaultCA, error) {
	if cfg.Vault == nil {
		return nil, errors.New("vault settings are missing")
	}

	return &VaultCA{
		cfg:    cfg,
		client: request.NewSession(&http.Client{Timeout: 15 * time.Second}),
	}, nil
}

func (v *VaultCA) pkiPath() string {
	if v.cfg.Vault.PKIPath != "" {
		return v.cfg.Vault.PKIPath
	}
	return "pki"
}

func (v *VaultCA) role() string {
	if v.cfg.Vault.Role != "" {
		return v.cfg.Vault.Role
	}
	return "service"
}

type vaultIssueData struct {
	Certificate  string   `json:"certificate"`
	PrivateKey   string   `json:"private_key"`
	IssuingCA    string   `json:"issuing_ca"`
	CAChain      []string `json:"ca_chain"`
	SerialNumber string   `json:"serial_number"`
}

type vaultResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []string        `json:"errors"`
}

// IssueServiceCert request a certificate from pki/issue/<role>
func (v *VaultCA) IssueServiceCert(ctx context.Context, req *CertRequest) ([]byte, []byte, error) {
	if req.ValidityDays == 0 {
		req.ValidityDays = v.cfg.RotationDays
	}

	if err := helper.ValidateStruct(req); err != nil {
		return nil, nil, errors.Wrap(err, "fail to issue certificate")
	}

	altNames := []string{
		req.ServiceName,
		fmt.Sprintf("%s.%s", req.ServiceName, v.cfg.Domain),
		"localhost",
	}
	ipSANs := []string{"127.0.0.1"}
	for _, name := range req.SANNames {
		if net.ParseIP(name) != nil {
			ipSANs = append(ipSANs, name)
		} else {
			altNames = append(altNames, name)
		}
	}

	body := map[string]interface{}{
		"common_name": req.ServiceName,
		"alt_names":   strings.Join(altNames, ","),
		"ip_sans":     strings.Join(ipSANs, ","),
		"ttl":         fmt.Sprintf("%dh", req.ValidityDays*24),
	}

	data := &vaultIssueData{}
	if err := v.write(ctx, fmt.Sprintf("%s/issue/%s", v.pkiPath(), v.role()), body, data); err != nil {
		return nil, nil, errors.Wrap(err, "fail to issue certificate")
	}

	log.Infof("issued vault certificate for %s: serial=%s", req.ServiceName, data.SerialNumber)

	return []byte(data.Certificate), []byte(data.PrivateKey), nil
}

// RevokeSerial revoke via pki/revoke; Vault expects the serial as
// colon-separated hex octets
func (v *VaultCA) RevokeSerial(serial *big.Int) error {
	body := map[string]interface{}{"serial_number": vaultSerial(serial)}

	if err := v.write(context.Background(), v.pkiPath()+"/revoke", body, nil); err != nil {
		return errors.Wrap(err, "fail to revoke certificate")
	}

	log.Warnf("revoked certificate with serial %s", serial)
	return nil
}

// VerifyPEM verify against the engine's issuing CA: signature and validity
// window. Revocation state lives in the engine's own CRL and is not
// re-checked here.
func (v *VaultCA) VerifyPEM(certPEM []byte, checkRevocation bool) VerifyResult {
	cert, err := x509x.ParseCertificate(certPEM)
	if err != nil {
		return failed(StatusError, err.Error())
	}

	caPEM, err := v.CACertificatePEM(context.Background())
	if err != nil {
		return failed(StatusError, err.Error())
	}

	caCert, err := x509x.ParseCertificate(caPEM)
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

	return valid()
}

// CACertificatePEM fetch the issuing CA from pki/ca/pem
func (v *VaultCA) CACertificatePEM(ctx context.Context) ([]byte, error) {
	resp, err := v.sendRequest(ctx, v.client.Get("%s/v1/%s/ca/pem", v.address(), v.pkiPath()))
	if err != nil {
		return nil, errors.Wrap(err, "fail to get CA certificate")
	}
	defer resp.Body.Close()

	if !resp.Success() {
		return nil, errors.Errorf("fail to get CA certificate: status=%d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (v *VaultCA) address() string { return strings.TrimRight(v.cfg.Vault.Address, "/") }

func (v *VaultCA) sendRequest(ctx context.Context, req *request.Request) (*request.Response, error) {
	log.Debugf("send request: %s", req.URL)

	return req.Header("X-Vault-Token", v.cfg.Vault.Token).Do(ctx)
}

// write POST a JSON body to a Vault logical path and decode .data into out
func (v *VaultCA) write(ctx context.Context, path string, body interface{}, out interface{}) error {
	resp, err := v.sendRequest(ctx, v.client.Post("%s/v1/%s", v.address(), path).JSON(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	vr := &vaultResponse{}
	if err := resp.JSON(vr); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrapf(err, "unexpected vault response: status=%d", resp.StatusCode)
	}

	if !resp.Success() {
		return errors.Errorf("vault request failed: status=%d, errors=%s", resp.StatusCode, strings.Join(vr.Errors, "; "))
	}

	if out != nil {
		if err := json.Unmarshal(vr.Data, out); err != nil {
			return errors.Wrap(err, "fail to decode vault response")
		}
	}

	return nil
}

// vaultSerial format a serial number as colon-separated hex octets
func vaultSerial(serial *big.Int) string {
	raw := serial.Bytes()
	if len(raw) == 0 {
		raw = []byte{0}
	}

	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}
