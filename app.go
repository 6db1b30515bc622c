package ztpki

import (
	"context"

	"github.com/whitekid/goxp/log"

	"ztpki/api/endpoints"
	"ztpki/api/pki"
	"ztpki/ca"
	"ztpki/certmanager"
	"ztpki/certmanager/inventory"
	"ztpki/config"
	"ztpki/pkg/helper"
)

// Run start the PKI distribution server; blocks until ctx is canceled
func Run(ctx context.Context, cfg *config.Config, addr string) error {
	authority, err := ca.New(cfg)
	if err != nil {
		return err
	}

	manager, err := NewManager(cfg, authority)
	if err != nil {
		return err
	}

	e := helper.NewEcho()
	endpoints.Route(e, pki.New(cfg, authority, manager))

	return helper.StartEcho(ctx, e, addr)
}

// NewManager certificate manager with the issuance ledger attached when
// configured
func NewManager(cfg *config.Config, authority ca.Authority) (*certmanager.Manager, error) {
	opts := []certmanager.Option{}

	if cfg.InventoryURL != "" {
		inv, err := inventory.New(cfg.InventoryURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, certmanager.WithInventory(inv))

		log.Debugf("issuance ledger enabled: %s", cfg.InventoryURL)
	}

	return certmanager.New(cfg, authority, opts...), nil
}
