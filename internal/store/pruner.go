package store

import (
	"context"
	"log/slog"
	"time"
)

// Pruner periodically removes expired records and lists from the store.
type Pruner struct {
	store    *Store
	interval time.Duration
}

// NewPruner creates a pruner. A non-positive interval defaults to one hour.
func NewPruner(store *Store, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &Pruner{
		store:    store,
		interval: interval,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval)

	// Run once at startup
	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	now := p.store.now().Unix()
	steps := []struct {
		name  string
		query string
	}{
		{"records", `DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at <= ?`},
		{"list_items", `DELETE FROM list_items WHERE key IN (SELECT key FROM lists WHERE expires_at IS NOT NULL AND expires_at <= ?)`},
		{"lists", `DELETE FROM lists WHERE expires_at IS NOT NULL AND expires_at <= ?`},
	}

	for _, step := range steps {
		result, err := p.store.db.ExecContext(ctx, step.query, now)
		if err != nil {
			slog.Error("pruning failed", "table", step.name, "error", err)
			continue
		}
		rows, _ := result.RowsAffected()
		if rows > 0 {
			slog.Info("pruned expired data", "table", step.name, "rows", rows)
		}
	}
}
