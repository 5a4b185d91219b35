package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
)

// MatchRepo reads live match documents maintained by the scoring backend.
type MatchRepo struct {
	db *sql.DB
}

// NewMatchRepo creates a MatchRepo.
func NewMatchRepo(db *sql.DB) *MatchRepo {
	return &MatchRepo{db: db}
}

// FetchSnapshot returns the current document for a match.
func (r *MatchRepo) FetchSnapshot(ctx context.Context, id model.ResourceID) (model.Snapshot, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM live_matches WHERE id = $1`, string(id),
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.Snapshot{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("fetch live match: %w", err)
	}
	snap, err := model.DecodeSnapshot(doc)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("decode live match %s: %w", id, err)
	}
	return snap, nil
}

// Upsert stores the document for a match, replacing any previous one.
func (r *MatchRepo) Upsert(ctx context.Context, id model.ResourceID, snap model.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode live match: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO live_matches (id, document) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()`,
		string(id), doc,
	)
	if err != nil {
		return fmt.Errorf("upsert live match: %w", err)
	}
	return nil
}

// Delete removes a match document.
func (r *MatchRepo) Delete(ctx context.Context, id model.ResourceID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM live_matches WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete live match: %w", err)
	}
	return nil
}

var _ repository.SnapshotFetcher = (*MatchRepo)(nil)
