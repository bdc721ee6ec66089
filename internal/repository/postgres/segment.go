package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
)

// SegmentRepo persists segments with their rule trees stored as JSONB.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

// Insert persists a new segment.
func (r *SegmentRepo) Insert(ctx context.Context, seg *segmentation.Segment) error {
	rules, err := json.Marshal(seg.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO segments (id, name, description, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, seg.ID, seg.Name, seg.Description, rules, seg.CreatedAt, seg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// GetByID returns one segment or domain.ErrNotFound.
func (r *SegmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*segmentation.Segment, error) {
	seg := &segmentation.Segment{}
	var rules []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description,''), rules, created_at, updated_at
		FROM segments
		WHERE id = $1
	`, id).Scan(&seg.ID, &seg.Name, &seg.Description, &rules, &seg.CreatedAt, &seg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	if err := json.Unmarshal(rules, &seg.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	return seg, nil
}

// List returns all segments, newest first.
func (r *SegmentRepo) List(ctx context.Context) ([]segmentation.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description,''), rules, created_at, updated_at
		FROM segments
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []segmentation.Segment
	for rows.Next() {
		var seg segmentation.Segment
		var rules []byte
		if err := rows.Scan(&seg.ID, &seg.Name, &seg.Description, &rules, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if err := json.Unmarshal(rules, &seg.Rules); err != nil {
			return nil, fmt.Errorf("unmarshal rules: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
