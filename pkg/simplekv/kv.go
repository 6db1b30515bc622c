// Package simplekv is an in-memory key/value store with per-entry TTL,
// used for short-lived caches such as peer authorization decisions.
package simplekv

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/whitekid/goxp/fx"
)

type Interface[K comparable, V any] interface {
	Len() int
	Set(ctx context.Context, k K, v V, ttl time.Duration) error
	Get(ctx context.Context, k K) (V, error)
	Delete(ctx context.Context, k K) error
	Cleanup(ctx context.Context) error
}

var ErrNotExists = errors.New("key not exists")

// New ttl 0 on Set means no expiry
func New[K comparable, V any]() Interface[K, V] {
	return &memoryImpl[K, V]{
		values: make(map[K]*entry[V]),
	}
}

type memoryImpl[K comparable, V any] struct {
	mu     sync.RWMutex
	values map[K]*entry[V]
}

var _ Interface[struct{}, struct{}] = (*memoryImpl[struct{}, struct{}])(nil)

type entry[T any] struct {
	value  T
	expire time.Time
}

func (m *memoryImpl[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values)
}

func (m *memoryImpl[K, V]) Set(ctx context.Context, k K, v V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[k] = &entry[V]{
		value:  v,
		expire: fx.Ternary(ttl == 0, time.Time{}, time.Now().UTC().Add(ttl)),
	}
	return nil
}

func (m *memoryImpl[K, V]) Get(ctx context.Context, k K) (V, error) {
	m.mu.RLock()
	v, ok := m.values[k]
	m.mu.RUnlock()

	if !ok {
		var vv V
		return vv, ErrNotExists
	}

	if !v.expire.IsZero() && v.expire.Before(time.Now()) {
		m.Delete(ctx, k)

		var vv V
		return vv, ErrNotExists
	}

	return v.value, nil
}

func (m *memoryImpl[K, V]) Delete(ctx context.Context, k K) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, k)
	return nil
}

func (m *memoryImpl[K, V]) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.values = fx.FilterMap(m.values, func(k K, v *entry[V]) bool { return v.expire.IsZero() || v.expire.After(now) })

	return nil
}
