// Package certmanager is the policy layer over the certificate authority:
// it decides when a service certificate is issued or rotated and owns the
// per-service material under the configured certificate directory. It never
// schedules anything itself; callers (CLI, cron, service bootstrap) drive
// the rotation checks.
package certmanager

import (
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"ztpki/ca"
	"ztpki/certmanager/inventory"
	"ztpki/config"
	"ztpki/pkg/helper"
	"ztpki/pkg/helper/x509x"
)

const backupTimeFormat = "20060102_150405"

// CertificateInfo loaded per-service certificate material
type CertificateInfo struct {
	ServiceName string
	Certificate *x509.Certificate
	CertPath    string
	KeyPath     string
	Expiry      *ca.ExpiryInfo
}

// CertStatus observability snapshot for one service
type CertStatus struct {
	Serial          string    `json:"serial_number,omitempty"`
	NotBefore       time.Time `json:"not_valid_before,omitempty"`
	NotAfter        time.Time `json:"not_valid_after,omitempty"`
	DaysUntilExpiry int       `json:"days_until_expiry,omitempty"`
	RotationNeeded  bool      `json:"rotation_needed,omitempty"`
	Provisioned     bool      `json:"provisioned"`
	Error           string    `json:"error,omitempty"`
}

type Manager struct {
	cfg       *config.Config
	authority ca.Authority
	inv       *inventory.Inventory
}

type Option func(*Manager)

// WithInventory record issuance and revocation events in a SQL ledger
func WithInventory(inv *inventory.Inventory) Option {
	return func(m *Manager) { m.inv = inv }
}

func New(cfg *config.Config, authority ca.Authority, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		authority: authority,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GenerateCert issue a certificate for serviceName; validityDays 0 means
// the configured rotation interval
func (m *Manager) GenerateCert(ctx context.Context, serviceName string, validityDays int) (certPEM, keyPEM []byte, err error) {
	certPEM, keyPEM, err = m.authority.IssueServiceCert(ctx, &ca.CertRequest{
		ServiceName:  serviceName,
		ValidityDays: validityDays,
	})
	if err != nil {
		return nil, nil, err
	}

	if m.inv != nil {
		if cert, err := x509x.ParseCertificate(certPEM); err == nil {
			if err := m.inv.RecordIssued(ctx, serviceName, cert); err != nil {
				log.Warnf("%v", err)
			}
		}
	}

	return certPEM, keyPEM, nil
}

// SaveCert write certificate and key under cert_dir/<service>/; returns the
// canonical paths
func (m *Manager) SaveCert(serviceName string, certPEM, keyPEM []byte) (certPath, keyPath string, err error) {
	certPath = m.cfg.ServiceCertPath(serviceName)
	keyPath = m.cfg.ServiceKeyPath(serviceName)

	if err := helper.WriteFile(certPath, certPEM, 0o644); err != nil {
		return "", "", errors.Wrapf(err, "fail to save certificate: %s", serviceName)
	}

	if err := helper.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return "", "", errors.Wrapf(err, "fail to save certificate: %s", serviceName)
	}

	log.Infof("saved certificate for %s: %s", serviceName, certPath)
	return certPath, keyPath, nil
}

// LoadCert load the current certificate of a service. A service that has
// never been provisioned yields (nil, nil): that is an expected state, not
// an error.
func (m *Manager) LoadCert(serviceName string) (*CertificateInfo, error) {
	certPath := m.cfg.ServiceCertPath(serviceName)

	cert, err := x509x.ReadCertificateFile(certPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "fail to load certificate: %s", serviceName)
	}

	return &CertificateInfo{
		ServiceName: serviceName,
		Certificate: cert,
		CertPath:    certPath,
		KeyPath:     m.cfg.ServiceKeyPath(serviceName),
		Expiry:      ca.CheckExpiry(cert, m.cfg.RotationThresholdDays),
	}, nil
}

// VerifyCert verify the on-disk certificate of a service against the
// authority
func (m *Manager) VerifyCert(serviceName string) ca.VerifyResult {
	certPEM, err := os.ReadFile(m.cfg.ServiceCertPath(serviceName))
	if err != nil {
		return ca.VerifyResult{Status: ca.StatusError, Reason: err.Error()}
	}

	return m.authority.VerifyPEM(certPEM, true)
}

// RotateCert rotate the service certificate when it is inside the
// configured expiry threshold. The previous certificate is archived to
// old/cert_<timestamp>.pem before the canonical path is overwritten.
//
// Returns (false, nil) when the current certificate is still healthy,
// (true, nil) after a successful rotation (a never-provisioned service is
// provisioned), and (false, err) when the attempt failed: the old
// certificate is left untouched and keeps working until the next attempt.
//
// The read-backup-issue-write sequence runs under an advisory file lock so
// concurrent rotations of the same service from several processes cannot
// interleave.
func (m *Manager) RotateCert(ctx context.Context, serviceName string) (bool, error) {
	if err := os.MkdirAll(m.cfg.ServiceDir(serviceName), 0o755); err != nil {
		return false, errors.Wrapf(err, "fail to rotate certificate: %s", serviceName)
	}

	lock := flock.New(filepath.Join(m.cfg.ServiceDir(serviceName), ".rotate.lock"))
	if err := lock.Lock(); err != nil {
		return false, errors.Wrapf(err, "fail to rotate certificate: %s", serviceName)
	}
	defer lock.Unlock()

	info, err := m.LoadCert(serviceName)
	if err != nil {
		return false, err
	}

	if info != nil {
		if info.Expiry.DaysUntilExpiry >= m.cfg.RotationThresholdDays {
			log.Debugf("certificate for %s has %d days left, no rotation needed",
				serviceName, info.Expiry.DaysUntilExpiry)
			return false, nil
		}

		if err := m.backupCert(serviceName, info.CertPath); err != nil {
			return false, err
		}
	}

	certPEM, keyPEM, err := m.GenerateCert(ctx, serviceName, 0)
	if err != nil {
		return false, err
	}

	if _, _, err := m.SaveCert(serviceName, certPEM, keyPEM); err != nil {
		return false, err
	}

	if m.inv != nil && info != nil {
		if cert, err := x509x.ParseCertificate(certPEM); err == nil {
			if err := m.inv.MarkRotated(ctx, serviceName, cert.SerialNumber.String()); err != nil {
				log.Warnf("%v", err)
			}
		}
	}

	log.Infof("rotated certificate for %s", serviceName)
	return true, nil
}

func (m *Manager) backupCert(serviceName, certPath string) error {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return errors.Wrapf(err, "fail to backup certificate: %s", serviceName)
	}

	backupPath := filepath.Join(m.cfg.ServiceBackupDir(serviceName),
		"cert_"+helper.UTCNow().Format(backupTimeFormat)+".pem")
	if err := helper.WriteFile(backupPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "fail to backup certificate: %s", serviceName)
	}

	log.Infof("archived previous certificate for %s: %s", serviceName, backupPath)
	return nil
}

// CheckRotationNeeded names of configured services whose certificate has
// fewer days until expiry than the rotation threshold. Per-service load
// failures are aggregated and the scan continues; services that were never
// provisioned are not reported.
func (m *Manager) CheckRotationNeeded() ([]string, error) {
	var merr error
	needed := []string{}

	for _, svc := range m.cfg.Services {
		info, err := m.LoadCert(svc.Name)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if info == nil {
			continue
		}

		if info.Expiry.DaysUntilExpiry < m.cfg.RotationThresholdDays {
			needed = append(needed, svc.Name)
		}
	}

	return needed, merr
}

// CertStatus snapshot of every configured service for observability
func (m *Manager) CertStatus() map[string]*CertStatus {
	status := make(map[string]*CertStatus, len(m.cfg.Services))

	for _, svc := range m.cfg.Services {
		info, err := m.LoadCert(svc.Name)
		switch {
		case err != nil:
			status[svc.Name] = &CertStatus{Error: err.Error()}
		case info == nil:
			status[svc.Name] = &CertStatus{Provisioned: false}
		default:
			status[svc.Name] = &CertStatus{
				Serial:          info.Certificate.SerialNumber.String(),
				NotBefore:       info.Expiry.NotBefore,
				NotAfter:        info.Expiry.NotAfter,
				DaysUntilExpiry: info.Expiry.DaysUntilExpiry,
				RotationNeeded:  info.Expiry.NeedsRenewal,
				Provisioned:     true,
			}
		}
	}

	return status
}

// RevokeCert revoke the current certificate of a service
func (m *Manager) RevokeCert(ctx context.Context, serviceName string) error {
	info, err := m.LoadCert(serviceName)
	if err != nil {
		return err
	}
	if info == nil {
		return errors.Wrapf(os.ErrNotExist, "service %s has no certificate", serviceName)
	}

	if err := m.authority.RevokeSerial(info.Certificate.SerialNumber); err != nil {
		return err
	}

	if m.inv != nil {
		if err := m.inv.MarkRevoked(ctx, info.Certificate.SerialNumber.String(), helper.UTCNow()); err != nil {
			log.Warnf("%v", err)
		}
	}

	return nil
}
