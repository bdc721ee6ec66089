package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
)

// SegmentRepo is an in-memory segment repository.
type SegmentRepo struct {
	mu       sync.RWMutex
	segments map[uuid.UUID]segmentation.Segment
}

// NewSegmentRepo creates an empty in-memory segment repository.
func NewSegmentRepo() *SegmentRepo {
	return &SegmentRepo{segments: make(map[uuid.UUID]segmentation.Segment)}
}

// Insert stores a segment. Read-after-create holds trivially: the write is
// visible to any reader as soon as the mutex is released.
func (r *SegmentRepo) Insert(_ context.Context, seg *segmentation.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments[seg.ID] = *seg
	return nil
}

// GetByID returns one segment or domain.ErrNotFound.
func (r *SegmentRepo) GetByID(_ context.Context, id uuid.UUID) (*segmentation.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seg, ok := r.segments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &seg, nil
}

// List returns all segments, newest first.
func (r *SegmentRepo) List(_ context.Context) ([]segmentation.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]segmentation.Segment, 0, len(r.segments))
	for _, seg := range r.segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
