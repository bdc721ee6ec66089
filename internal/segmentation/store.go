package segmentation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/google/uuid"
)

// SegmentRepo persists segments. Implementations must provide
// read-after-create consistency: once Insert returns, GetByID must see the
// segment for any caller.
type SegmentRepo interface {
	Insert(ctx context.Context, seg *Segment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Segment, error)
	List(ctx context.Context) ([]Segment, error)
}

// Store exposes the segment operations the API layer calls: create a named
// rule set, look one up, and preview the audience size of an arbitrary tree.
type Store struct {
	repo SegmentRepo
	eval *Evaluator
}

// NewStore creates a segment store over a repository and evaluator.
func NewStore(repo SegmentRepo, eval *Evaluator) *Store {
	return &Store{repo: repo, eval: eval}
}

// Create validates and persists a new segment. The name must be non-empty
// and the rule tree must be valid and reference only known fields and
// operators; anything else is a ValidationError.
func (s *Store) Create(ctx context.Context, name, description string, rules RuleNode) (uuid.UUID, error) {
	if strings.TrimSpace(name) == "" {
		return uuid.Nil, domain.NewValidationError("name", "must not be empty")
	}
	if err := CheckKnown(rules); err != nil {
		return uuid.Nil, err
	}
	if !Valid(rules) {
		return uuid.Nil, domain.NewValidationError("rules", "rule tree is empty or incomplete")
	}

	seg := &Segment{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(name),
		Description: description,
		Rules:       Canonicalize(rules),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, seg); err != nil {
		return uuid.Nil, fmt.Errorf("insert segment: %w", err)
	}
	return seg.ID, nil
}

// Get returns a segment by ID, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Segment, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all segments, newest first.
func (s *Store) List(ctx context.Context) ([]Segment, error) {
	return s.repo.List(ctx)
}

// PreviewCount returns the current audience size for an arbitrary rule
// tree without persisting anything. Delegates to the evaluator, so an
// incomplete tree previews as zero.
func (s *Store) PreviewCount(ctx context.Context, rules RuleNode) (int, error) {
	return s.eval.Count(ctx, rules)
}

// Resolve returns the recipient set for a campaign's audience source:
// either the referenced segment's rules or the inline tree.
func (s *Store) Resolve(ctx context.Context, segmentID *uuid.UUID, inline RuleNode) (*Result, error) {
	tree := inline
	if segmentID != nil {
		seg, err := s.repo.GetByID(ctx, *segmentID)
		if err != nil {
			return nil, fmt.Errorf("resolve segment %s: %w", segmentID, err)
		}
		tree = seg.Rules
	}
	return s.eval.Evaluate(ctx, tree)
}
