// Package inventory keeps a SQL ledger of every certificate this process
// issued: serial, subject, validity window and revocation state. It is an
// observability aid for fleet-wide status queries; the certificates
// themselves live on disk and the ledger is never consulted on the
// verification path.
package inventory

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"ztpki/pkg/helper/gormx"
	"ztpki/pkg/helper/x509x"
)

// certificate record states
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
	StatusRotated = "rotated"
)

// Record one issued certificate
type Record struct {
	gorm.Model

	ID        string `gorm:"primaryKey;size:37"`
	Service   string `gorm:"index;size:256"`
	Serial    string `gorm:"uniqueIndex;size:64"`
	NotBefore time.Time
	NotAfter  time.Time
	Status    string `gorm:"size:10"`
	RevokedAt *time.Time
}

func (r *Record) BeforeCreate(tx *gorm.DB) error { return gormx.GenerateID(&r.ID) }

type Inventory struct {
	db *gorm.DB
}

// New open the ledger; dburl accepts the gormx URL DSN forms
func New(dburl string) (*Inventory, error) {
	db, err := gormx.Open(dburl, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: "ztpki_"},
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errors.Wrap(err, "fail to migrate inventory")
	}

	return &Inventory{db: db}, nil
}

// RecordIssued add a ledger entry for a freshly issued certificate
func (inv *Inventory) RecordIssued(ctx context.Context, service string, cert *x509.Certificate) error {
	notBefore, notAfter := x509x.ValidityWindow(cert)
	rec := &Record{
		Service:   service,
		Serial:    cert.SerialNumber.String(),
		NotBefore: notBefore,
		NotAfter:  notAfter,
		Status:    StatusActive,
	}

	if tx := inv.db.WithContext(ctx).Create(rec); tx.Error != nil {
		return errors.Wrap(gormx.ConvertSQLError(tx.Error), "fail to record issued certificate")
	}

	log.Debugf("recorded issued certificate: service=%s, serial=%s", service, rec.Serial)
	return nil
}

// MarkRotated mark the previously active entries of a service as rotated
func (inv *Inventory) MarkRotated(ctx context.Context, service string, exceptSerial string) error {
	tx := inv.db.WithContext(ctx).Model(&Record{}).
		Where("service = ? AND status = ? AND serial <> ?", service, StatusActive, exceptSerial).
		Update("status", StatusRotated)
	return errors.Wrap(gormx.ConvertSQLError(tx.Error), "fail to mark rotated")
}

// MarkRevoked flag a serial as revoked with the revocation timestamp
func (inv *Inventory) MarkRevoked(ctx context.Context, serial string, revokedAt time.Time) error {
	tx := inv.db.WithContext(ctx).Model(&Record{}).
		Where("serial = ?", serial).
		Updates(map[string]interface{}{"status": StatusRevoked, "revoked_at": revokedAt})
	return errors.Wrap(gormx.ConvertSQLError(tx.Error), "fail to mark revoked")
}

// ListOpt filters for List
type ListOpt struct {
	Service string
	Status  string
}

// List ledger entries, oldest first
func (inv *Inventory) List(ctx context.Context, opts ListOpt) ([]*Record, error) {
	var results []*Record
	if tx := inv.db.WithContext(ctx).Order("created_at").Find(&results, &Record{
		Service: opts.Service,
		Status:  opts.Status,
	}); tx.Error != nil {
		return nil, errors.Wrap(gormx.ConvertSQLError(tx.Error), "fail to list inventory")
	}

	return results, nil
}

// ListActive active entries for a service
func (inv *Inventory) ListActive(ctx context.Context, service string) ([]*Record, error) {
	return inv.List(ctx, ListOpt{Service: service, Status: StatusActive})
}

// ActiveSerials active serial numbers per service for a quick overview
func (inv *Inventory) ActiveSerials(ctx context.Context) (map[string][]string, error) {
	records, err := inv.List(ctx, ListOpt{Status: StatusActive})
	if err != nil {
		return nil, err
	}

	out := map[string][]string{}
	fx.ForEach(records, func(_ int, rec *Record) { out[rec.Service] = append(out[rec.Service], rec.Serial) })
	return out, nil
}
