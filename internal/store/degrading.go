package store

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Degrading fronts a durable store with an in-memory mirror. The first
// runtime failure of the durable store switches every later call to the
// mirror, so identity keeps working for the rest of the process.
type Degrading struct {
	durable Store
	mirror  *MemoryStore

	mu       sync.RWMutex
	degraded bool
}

func NewDegrading(durable Store) *Degrading {
	return &Degrading{durable: durable, mirror: NewMemoryStore()}
}

// Degraded reports whether the durable store has been abandoned.
func (d *Degrading) Degraded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.degraded
}

func (d *Degrading) Get(ctx context.Context, key string) (string, error) {
	if d.Degraded() {
		return d.mirror.Get(ctx, key)
	}
	v, err := d.durable.Get(ctx, key)
	switch {
	case err == nil:
		_ = d.mirror.Set(ctx, key, v)
		return v, nil
	case errors.Is(err, ErrNotFound):
		return "", ErrNotFound
	default:
		d.degrade(err)
		return d.mirror.Get(ctx, key)
	}
}

func (d *Degrading) Set(ctx context.Context, key, value string) error {
	_ = d.mirror.Set(ctx, key, value)
	if d.Degraded() {
		return nil
	}
	if err := d.durable.Set(ctx, key, value); err != nil {
		d.degrade(err)
	}
	return nil
}

func (d *Degrading) Delete(ctx context.Context, key string) error {
	_ = d.mirror.Delete(ctx, key)
	if d.Degraded() {
		return nil
	}
	if err := d.durable.Delete(ctx, key); err != nil {
		d.degrade(err)
	}
	return nil
}

func (d *Degrading) Close() error {
	return d.durable.Close()
}

func (d *Degrading) degrade(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.degraded {
		return
	}
	d.degraded = true
	log.Printf("[store] durable store failed, continuing in memory: %v", err)
}
