// Package memory provides in-process repository implementations with the
// same semantics as the postgres package. They back the sandbox mode and
// the concurrency-heavy tests, where the atomic claim and stat invariants
// need to be exercised without a database.
package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
)

// CustomerStore is an in-memory customer store applying typed predicates
// per customer.
type CustomerStore struct {
	mu        sync.RWMutex
	customers map[uuid.UUID]domain.Customer
}

// NewCustomerStore creates an empty in-memory customer store.
func NewCustomerStore() *CustomerStore {
	return &CustomerStore{customers: make(map[uuid.UUID]domain.Customer)}
}

// Add inserts or replaces a customer.
func (s *CustomerStore) Add(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// Match returns the IDs of customers satisfying one condition.
func (s *CustomerStore) Match(_ context.Context, cond segmentation.Condition) ([]uuid.UUID, error) {
	pred, err := buildPredicate(cond)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, c := range s.customers {
		if pred(c) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetByIDs returns full customer profiles for personalization.
func (s *CustomerStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Customer, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.customers[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type predicate func(domain.Customer) bool

// buildPredicate compiles one condition into a typed predicate. Numeric and
// date comparisons are ordered; string contains is a case-insensitive
// substring; between is inclusive on both bounds.
func buildPredicate(cond segmentation.Condition) (predicate, error) {
	ft, ok := segmentation.TypeOf(cond.Field)
	if !ok {
		return nil, &domain.InvalidRuleError{Field: string(cond.Field), Operator: string(cond.Operator), Reason: "unknown field"}
	}

	switch ft {
	case segmentation.FieldTypeNumber:
		return numberPredicate(cond)
	case segmentation.FieldTypeDate:
		return datePredicate(cond)
	case segmentation.FieldTypeString:
		return stringPredicate(cond)
	case segmentation.FieldTypeTags:
		return tagsPredicate(cond)
	}
	return nil, &domain.InvalidRuleError{Field: string(cond.Field), Operator: string(cond.Operator), Reason: "unknown field type"}
}

func numberValue(c domain.Customer, f segmentation.Field) float64 {
	switch f {
	case segmentation.FieldTotalSpend:
		return c.TotalSpend
	case segmentation.FieldVisitCount:
		return float64(c.VisitCount)
	}
	return 0
}

func numberPredicate(cond segmentation.Condition) (predicate, error) {
	want, err := strconv.ParseFloat(strings.TrimSpace(cond.Value), 64)
	if err != nil {
		return nil, domain.NewValidationError(string(cond.Field), "value is not numeric")
	}
	var hi float64
	if cond.Operator == segmentation.OpBetween {
		hi, err = strconv.ParseFloat(strings.TrimSpace(cond.SecondValue), 64)
		if err != nil {
			return nil, domain.NewValidationError(string(cond.Field), "second value is not numeric")
		}
	}

	switch cond.Operator {
	case segmentation.OpEquals:
		return func(c domain.Customer) bool { return numberValue(c, cond.Field) == want }, nil
	case segmentation.OpNotEquals:
		return func(c domain.Customer) bool { return numberValue(c, cond.Field) != want }, nil
	case segmentation.OpGreaterThan:
		return func(c domain.Customer) bool { return numberValue(c, cond.Field) > want }, nil
	case segmentation.OpLessThan:
		return func(c domain.Customer) bool { return numberValue(c, cond.Field) < want }, nil
	case segmentation.OpBetween:
		return func(c domain.Customer) bool {
			v := numberValue(c, cond.Field)
			return v >= want && v <= hi
		}, nil
	}
	return nil, opError(cond)
}

func dateValue(c domain.Customer, f segmentation.Field) (time.Time, bool) {
	switch f {
	case segmentation.FieldLastActive:
		if c.LastActive == nil {
			return time.Time{}, false
		}
		return *c.LastActive, true
	case segmentation.FieldCreatedAt:
		return c.CreatedAt, true
	}
	return time.Time{}, false
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func datePredicate(cond segmentation.Condition) (predicate, error) {
	if cond.Operator == segmentation.OpInLastDays {
		days, err := strconv.Atoi(strings.TrimSpace(cond.Value))
		if err != nil {
			return nil, domain.NewValidationError(string(cond.Field), "value is not a day count")
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		return func(c domain.Customer) bool {
			v, ok := dateValue(c, cond.Field)
			return ok && !v.Before(cutoff)
		}, nil
	}

	want, err := parseDate(cond.Value)
	if err != nil {
		return nil, domain.NewValidationError(string(cond.Field), "value is not a date")
	}
	var hi time.Time
	if cond.Operator == segmentation.OpBetween {
		hi, err = parseDate(cond.SecondValue)
		if err != nil {
			return nil, domain.NewValidationError(string(cond.Field), "second value is not a date")
		}
	}

	switch cond.Operator {
	case segmentation.OpEquals:
		return func(c domain.Customer) bool {
			v, ok := dateValue(c, cond.Field)
			return ok && v.Truncate(24*time.Hour).Equal(want.Truncate(24*time.Hour))
		}, nil
	case segmentation.OpNotEquals:
		return func(c domain.Customer) bool {
			v, ok := dateValue(c, cond.Field)
			return ok && !v.Truncate(24*time.Hour).Equal(want.Truncate(24*time.Hour))
		}, nil
	case segmentation.OpGreaterThan:
		return func(c domain.Customer) bool {
			v, ok := dateValue(c, cond.Field)
			return ok && v.After(want)
		}, nil
	case segmentation.OpLessThan:
		return func(c domain.Customer) bool {
			v, ok := dateValue(c, cond.Field)
			return ok && v.Before(want)
		}, nil
	case segmentation.OpBetween:
		return func(c domain.Customer) bool {
			v, ok := dateValue(c, cond.Field)
			return ok && !v.Before(want) && !v.After(hi)
		}, nil
	}
	return nil, opError(cond)
}

func stringValue(c domain.Customer, f segmentation.Field) string {
	switch f {
	case segmentation.FieldLocation:
		return c.Location
	case segmentation.FieldEmail:
		return c.Email
	case segmentation.FieldName:
		return strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return ""
}

func stringPredicate(cond segmentation.Condition) (predicate, error) {
	want := cond.Value
	switch cond.Operator {
	case segmentation.OpEquals:
		return func(c domain.Customer) bool { return stringValue(c, cond.Field) == want }, nil
	case segmentation.OpNotEquals:
		return func(c domain.Customer) bool { return stringValue(c, cond.Field) != want }, nil
	case segmentation.OpContains:
		lower := strings.ToLower(want)
		return func(c domain.Customer) bool {
			return strings.Contains(strings.ToLower(stringValue(c, cond.Field)), lower)
		}, nil
	}
	return nil, opError(cond)
}

func tagsPredicate(cond segmentation.Condition) (predicate, error) {
	switch cond.Operator {
	case segmentation.OpEquals:
		return func(c domain.Customer) bool {
			for _, tag := range c.Tags {
				if tag == cond.Value {
					return true
				}
			}
			return false
		}, nil
	case segmentation.OpContains:
		lower := strings.ToLower(cond.Value)
		return func(c domain.Customer) bool {
			for _, tag := range c.Tags {
				if strings.Contains(strings.ToLower(tag), lower) {
					return true
				}
			}
			return false
		}, nil
	}
	return nil, opError(cond)
}

func opError(cond segmentation.Condition) error {
	return &domain.InvalidRuleError{Field: string(cond.Field), Operator: string(cond.Operator), Reason: "unknown operator"}
}
