package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// probePrefix starts the keys written by Probe.
const probePrefix = "__fluxio_probe__"

// Opener opens one candidate store for Fallback.
type Opener struct {
	Name string
	Open func(ctx context.Context) (Store, error)
}

// Fallback opens the candidates in order and returns the first store that
// opens and passes Probe, together with its name. Candidates that fail are
// logged at warn level and closed. When every candidate fails, Fallback
// returns a MemoryStore named "memory".
func Fallback(ctx context.Context, logger *slog.Logger, candidates ...Opener) (Store, string) {
	if logger == nil {
		logger = slog.Default().With("component", "storage")
	}
	for _, c := range candidates {
		s, err := c.Open(ctx)
		if err == nil && s == nil {
			continue
		}
		if err == nil {
			if err = Probe(ctx, s); err != nil {
				s.Close()
			}
		}
		if err != nil {
			logger.Warn("storage candidate unavailable", "store", c.Name, "error", err)
			continue
		}
		logger.Debug("storage selected", "store", c.Name)
		return s, c.Name
	}
	logger.Warn("storage falling back to memory")
	return NewMemoryStore(), "memory"
}

// Probe checks that s can save, load and delete a value. Each call uses its
// own key so concurrent probes of a shared store do not collide.
func Probe(ctx context.Context, s Store) error {
	probeKey := probePrefix + uuid.NewString()
	want := []byte(`{"ok":1}`)
	if err := s.Save(ctx, probeKey, want); err != nil {
		return fmt.Errorf("storage: probe save: %w", err)
	}
	got, err := s.Load(ctx, probeKey)
	if err != nil {
		return fmt.Errorf("storage: probe load: %w", err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("storage: probe read back %q", got)
	}
	if err := s.Delete(ctx, probeKey); err != nil {
		return fmt.Errorf("storage: probe delete: %w", err)
	}
	return nil
}
