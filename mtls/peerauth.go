package mtls

import (
	"context"
	"time"

	"ztpki/config"
	"ztpki/pkg/simplekv"
)

const decisionTTL = time.Minute

// PeerAuthorizer decides whether a peer service may talk to a target
// service. Decisions come from the per-service allow list; a nil or empty
// allow list admits every authenticated peer. Results are cached briefly so
// a hot path does not rescan the configuration on every connection.
type PeerAuthorizer struct {
	cfg       *config.Config
	decisions simplekv.Interface[string, bool]

	backend PeerBackend
}

// PeerBackend consulted when the static allow list has no opinion,
// e.g. a policy service
type PeerBackend interface {
	Allowed(ctx context.Context, service, peer string) (bool, error)
}

func NewPeerAuthorizer(cfg *config.Config) *PeerAuthorizer {
	return &PeerAuthorizer{
		cfg:       cfg,
		decisions: simplekv.New[string, bool](),
	}
}

// WithBackend set the fallback policy backend
func (p *PeerAuthorizer) WithBackend(backend PeerBackend) *PeerAuthorizer {
	p.backend = backend
	return p
}

func decisionKey(service, peer string) string { return service + ":" + peer }

// Allowed true when peer may connect to service
func (p *PeerAuthorizer) Allowed(ctx context.Context, service, peer string) (bool, error) {
	k := decisionKey(service, peer)

	if ok, err := p.decisions.Get(ctx, k); err == nil {
		return ok, nil
	}

	ok, err := p.decide(ctx, service, peer)
	if err != nil {
		return false, err
	}

	if err := p.decisions.Set(ctx, k, ok, decisionTTL); err != nil {
		return ok, err
	}

	return ok, nil
}

func (p *PeerAuthorizer) decide(ctx context.Context, service, peer string) (bool, error) {
	svc := p.cfg.GetService(service)
	if svc == nil || len(svc.AllowedPeers) == 0 {
		if p.backend != nil {
			return p.backend.Allowed(ctx, service, peer)
		}
		return true, nil
	}

	for _, allowed := range svc.AllowedPeers {
		if allowed == peer {
			return true, nil
		}
	}

	if p.backend != nil {
		return p.backend.Allowed(ctx, service, peer)
	}

	return false, nil
}

// Invalidate drop the cached decision for a service/peer pair, e.g. after
// a configuration reload
func (p *PeerAuthorizer) Invalidate(ctx context.Context, service, peer string) error {
	return p.decisions.Delete(ctx, decisionKey(service, peer))
}
