package segmentation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CustomerStore is the query capability the evaluator needs from the
// customer store: given one complete condition, return the IDs of matching
// customers. The postgres implementation compiles the condition to SQL;
// the in-memory implementation applies a typed predicate per customer.
type CustomerStore interface {
	Match(ctx context.Context, cond Condition) ([]uuid.UUID, error)
}

// Cache short-circuits evaluation of a rule tree that was already resolved,
// keyed by the canonical hash of the normalized tree. Supplied by the
// caller; the evaluator itself holds no hidden memoization.
type Cache interface {
	Get(ctx context.Context, key string) ([]uuid.UUID, bool)
	Put(ctx context.Context, key string, ids []uuid.UUID, ttl time.Duration)
}

// Result is the outcome of evaluating a rule tree.
type Result struct {
	Recipients []uuid.UUID `json:"recipients"`
	FromCache  bool        `json:"from_cache"`
	QueryHash  string      `json:"query_hash"`
}

// Evaluator resolves rule trees into recipient sets. It is a pure function
// of (tree, current customer data) plus the optional cache.
type Evaluator struct {
	store    CustomerStore
	cache    Cache
	cacheTTL time.Duration
}

// NewEvaluator creates an evaluator over the given customer store.
func NewEvaluator(store CustomerStore, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{store: store, cacheTTL: 5 * time.Minute}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithCache attaches a caller-supplied result cache.
func WithCache(c Cache, ttl time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		e.cache = c
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// Evaluate resolves the rule tree to a recipient set.
//
// Unknown fields or operators fail with InvalidRuleError. An incomplete or
// empty tree is not an error: it resolves to zero recipients, since
// "incomplete rule" is an expected interim state during authoring.
// AND groups intersect their children's results, OR groups union them.
func (e *Evaluator) Evaluate(ctx context.Context, tree RuleNode) (*Result, error) {
	if err := CheckKnown(tree); err != nil {
		return nil, err
	}
	if !Valid(tree) {
		return &Result{Recipients: nil, QueryHash: Hash(tree)}, nil
	}

	key := Hash(tree)
	if e.cache != nil {
		if ids, ok := e.cache.Get(ctx, key); ok {
			return &Result{Recipients: ids, FromCache: true, QueryHash: key}, nil
		}
	}

	set, err := e.evalNode(ctx, tree)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	if e.cache != nil {
		e.cache.Put(ctx, key, ids, e.cacheTTL)
	}

	return &Result{Recipients: ids, QueryHash: key}, nil
}

// Count returns the audience size for a rule tree. It is defined as
// len(Evaluate(tree).Recipients) so the two can never disagree.
func (e *Evaluator) Count(ctx context.Context, tree RuleNode) (int, error) {
	res, err := e.Evaluate(ctx, tree)
	if err != nil {
		return 0, err
	}
	return len(res.Recipients), nil
}

func (e *Evaluator) evalNode(ctx context.Context, n RuleNode) (map[uuid.UUID]struct{}, error) {
	if n.Condition != nil {
		ids, err := e.store.Match(ctx, *n.Condition)
		if err != nil {
			return nil, fmt.Errorf("match %s %s: %w", n.Condition.Field, n.Condition.Operator, err)
		}
		set := make(map[uuid.UUID]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		return set, nil
	}

	g := n.Group
	var acc map[uuid.UUID]struct{}
	for i, child := range g.Children {
		childSet, err := e.evalNode(ctx, child)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			acc = childSet
			continue
		}
		switch g.Logic {
		case LogicOr:
			for id := range childSet {
				acc[id] = struct{}{}
			}
		default: // AND
			for id := range acc {
				if _, ok := childSet[id]; !ok {
					delete(acc, id)
				}
			}
		}
	}
	return acc, nil
}
