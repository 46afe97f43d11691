package memory

import (
	"context"
	"time"

	"github.com/xenking/storefront/internal/domain/analytics"
)

var _ analytics.Repository = (*SnapshotRepository)(nil)

// SnapshotRepository implements analytics.Repository.
type SnapshotRepository struct {
	db *DB
}

func (r *SnapshotRepository) Upsert(_ context.Context, s *analytics.Snapshot) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.snapshots[analytics.Day(s.Date)] = *s
	return nil
}

func (r *SnapshotRepository) Get(_ context.Context, day time.Time) (*analytics.Snapshot, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.snapshots[analytics.Day(day)]
	if !ok {
		return nil, analytics.ErrNotFound
	}
	return &s, nil
}

func (r *SnapshotRepository) ListRange(_ context.Context, from, to time.Time) ([]analytics.Snapshot, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []analytics.Snapshot
	for d := analytics.Day(from); d.Before(to); d = d.AddDate(0, 0, 1) {
		if s, ok := r.db.snapshots[d]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}
