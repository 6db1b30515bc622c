package ca

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"ztpki/pkg/helper"
)

// RevocationList durable record of revoked certificate serials. Serials are
// kept as decimal strings, matching the JSON file format
// {"<serial>": "<RFC3339 timestamp>"}. Entries are never removed: there is
// no un-revoke.
type RevocationList struct {
	path string

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewRevocationList load the CRL at path; a missing or unreadable file
// leaves the list empty and is only logged, so a fresh CA bootstraps
// without special cases
func NewRevocationList(path string) *RevocationList {
	crl := &RevocationList{
		path:    path,
		revoked: map[string]time.Time{},
	}
	crl.load()

	return crl
}

func (crl *RevocationList) load() {
	data, err := os.ReadFile(crl.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("fail to load CRL: %v", err)
		}
		return
	}

	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Errorf("fail to load CRL: %v", err)
		return
	}

	for serial, revokedAt := range raw {
		ts, err := time.Parse(time.RFC3339, revokedAt)
		if err != nil {
			log.Errorf("fail to load CRL: bad timestamp for serial %s: %v", serial, err)
			continue
		}
		crl.revoked[serial] = ts.UTC()
	}

	log.Infof("loaded %d revoked certificates from CRL", len(crl.revoked))
}

// save full-file rewrite; revocation is rare and the list stays small
func (crl *RevocationList) save() error {
	raw := make(map[string]string, len(crl.revoked))
	for serial, revokedAt := range crl.revoked {
		raw[serial] = revokedAt.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return errors.Wrap(err, "fail to save CRL")
	}

	if err := os.MkdirAll(filepath.Dir(crl.path), 0o700); err != nil {
		return errors.Wrap(err, "fail to save CRL")
	}

	return errors.Wrap(os.WriteFile(crl.path, data, 0o644), "fail to save CRL")
}

// Revoke add serial to the list and persist before returning, so the
// revocation is durable when the call completes. Revoking twice only
// refreshes the timestamp.
func (crl *RevocationList) Revoke(serial *big.Int) error {
	crl.mu.Lock()
	defer crl.mu.Unlock()

	crl.revoked[serial.String()] = helper.UTCNow()

	if err := crl.save(); err != nil {
		log.Errorf("%v", err)
		return err
	}

	log.Warnf("revoked certificate with serial %s", serial)
	return nil
}

// IsRevoked report whether serial is on the list
func (crl *RevocationList) IsRevoked(serial *big.Int) bool {
	crl.mu.Lock()
	defer crl.mu.Unlock()

	_, ok := crl.revoked[serial.String()]
	return ok
}

// RevocationTime revocation timestamp; nil when serial is not revoked
func (crl *RevocationList) RevocationTime(serial *big.Int) *time.Time {
	crl.mu.Lock()
	defer crl.mu.Unlock()

	if ts, ok := crl.revoked[serial.String()]; ok {
		return &ts
	}
	return nil
}

// Len number of revoked serials
func (crl *RevocationList) Len() int {
	crl.mu.Lock()
	defer crl.mu.Unlock()

	return len(crl.revoked)
}

// Snapshot copy of the revocation map keyed by serial string, for the
// distribution endpoint
func (crl *RevocationList) Snapshot() map[string]time.Time {
	crl.mu.Lock()
	defer crl.mu.Unlock()

	out := make(map[string]time.Time, len(crl.revoked))
	for serial, ts := range crl.revoked {
		out[serial] = ts
	}
	return out
}
