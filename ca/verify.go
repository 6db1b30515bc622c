package ca

import (
	"crypto/x509"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"ztpki/pkg/helper"
	"ztpki/pkg/helper/x509x"
)

// VerifyStatus outcome of a certificate verification. Routine failures are
// reported through this type instead of errors so callers can branch on the
// reason without string matching.
type VerifyStatus int

const (
	StatusValid VerifyStatus = iota
	StatusExpired
	StatusNotYetValid
	StatusRevoked
	StatusSignatureInvalid
	StatusError // certificate could not be loaded or checked at all
)

var (
	statusToStr = map[VerifyStatus]string{}
	strToStatus = map[string]VerifyStatus{}
)

func init() {
	for status, str := range map[VerifyStatus]string{
		StatusValid:            "valid",
		StatusExpired:          "expired",
		StatusNotYetValid:      "not-yet-valid",
		StatusRevoked:          "revoked",
		StatusSignatureInvalid: "signature-invalid",
		StatusError:            "error",
	} {
		statusToStr[status] = str
		strToStatus[str] = status
	}
}

func (st VerifyStatus) String() string               { return statusToStr[st] }
func (st VerifyStatus) MarshalJSON() ([]byte, error) { return json.Marshal(st.String()) }
func (st *VerifyStatus) UnmarshalJSON(data []byte) error {
	var s string

	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	status, ok := strToStatus[s]
	if !ok {
		return errors.Errorf("unknown verify status: %s", s)
	}

	*st = status
	return nil
}

// VerifyResult verification outcome with the concrete reason
type VerifyResult struct {
	Status VerifyStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

func (r VerifyResult) OK() bool { return r.Status == StatusValid }

func valid() VerifyResult { return VerifyResult{Status: StatusValid} }

func failed(status VerifyStatus, reason string) VerifyResult {
	log.Errorf("certificate verification failed: %s: %s", status, reason)
	return VerifyResult{Status: status, Reason: reason}
}

// ExpiryInfo expiry snapshot of a certificate
type ExpiryInfo struct {
	IsExpired       bool      `json:"is_expired"`
	NotYetValid     bool      `json:"not_yet_valid"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	NeedsRenewal    bool      `json:"needs_renewal"`
	NotBefore       time.Time `json:"not_valid_before"`
	NotAfter        time.Time `json:"not_valid_after"`
}

// CheckExpiry report expiry status against the current UTC time; renewalThreshold
// is the days-until-expiry below which the certificate should be rotated
func CheckExpiry(cert *x509.Certificate, renewalThreshold int) *ExpiryInfo {
	now := helper.UTCNow()
	notBefore, notAfter := x509x.ValidityWindow(cert)
	daysLeft := int(notAfter.Sub(now).Hours() / 24)

	return &ExpiryInfo{
		IsExpired:       now.After(notAfter),
		NotYetValid:     now.Before(notBefore),
		DaysUntilExpiry: daysLeft,
		NeedsRenewal:    daysLeft < renewalThreshold,
		NotBefore:       notBefore,
		NotAfter:        notAfter,
	}
}

// ValidateChain verify each signature link from the end-entity certificate
// up to the root: cert -> intermediates... -> caCert
func ValidateChain(cert *x509.Certificate, caCert *x509.Certificate, intermediates ...*x509.Certificate) error {
	chain := append(intermediates, caCert)

	current := cert
	for _, issuer := range chain {
		if err := issuer.CheckSignature(current.SignatureAlgorithm, current.RawTBSCertificate, current.Signature); err != nil {
			return errors.Wrapf(err, "chain validation failed at %s", current.Subject.CommonName)
		}
		current = issuer
	}

	return nil
}
