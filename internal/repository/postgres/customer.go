package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
)

// CustomerRepo implements the evaluator's query capability against the
// customers table by compiling one condition at a time to SQL. Tree-level
// AND/OR combination stays in the evaluator so the set semantics are the
// same for every store implementation.
type CustomerRepo struct{ db *sql.DB }

// NewCustomerRepo creates a Postgres-backed customer store.
func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{db: db} }

var customerColumns = map[segmentation.Field]string{
	segmentation.FieldTotalSpend: "total_spend",
	segmentation.FieldVisitCount: "visit_count",
	segmentation.FieldLastActive: "last_active_at",
	segmentation.FieldCreatedAt:  "created_at",
	segmentation.FieldLocation:   "location",
	segmentation.FieldEmail:      "email",
	segmentation.FieldName:       "(first_name || ' ' || last_name)",
	segmentation.FieldTags:   "tags",
}

// Match returns the IDs of customers satisfying one condition. The
// condition has already passed CheckKnown and completeness validation in
// the evaluator.
func (r *CustomerRepo) Match(ctx context.Context, cond segmentation.Condition) ([]uuid.UUID, error) {
	where, args, err := buildConditionSQL(cond)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM customers WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("match customers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan customer id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// buildConditionSQL compiles a single condition into a WHERE fragment with
// positional args. Numeric and date comparisons are ordered; string
// contains is a case-insensitive substring; between is inclusive on both
// bounds.
func buildConditionSQL(cond segmentation.Condition) (string, []any, error) {
	col, ok := customerColumns[cond.Field]
	if !ok {
		return "", nil, &domain.InvalidRuleError{Field: string(cond.Field), Operator: string(cond.Operator), Reason: "unknown field"}
	}
	ft, _ := segmentation.TypeOf(cond.Field)

	switch ft {
	case segmentation.FieldTypeNumber:
		switch cond.Operator {
		case segmentation.OpEquals:
			return col + " = $1::numeric", []any{cond.Value}, nil
		case segmentation.OpNotEquals:
			return col + " != $1::numeric", []any{cond.Value}, nil
		case segmentation.OpGreaterThan:
			return col + " > $1::numeric", []any{cond.Value}, nil
		case segmentation.OpLessThan:
			return col + " < $1::numeric", []any{cond.Value}, nil
		case segmentation.OpBetween:
			return col + " BETWEEN $1::numeric AND $2::numeric", []any{cond.Value, cond.SecondValue}, nil
		}

	case segmentation.FieldTypeDate:
		switch cond.Operator {
		case segmentation.OpEquals:
			return col + "::date = $1::date", []any{cond.Value}, nil
		case segmentation.OpNotEquals:
			return col + "::date != $1::date", []any{cond.Value}, nil
		case segmentation.OpGreaterThan:
			return col + " > $1::timestamptz", []any{cond.Value}, nil
		case segmentation.OpLessThan:
			return col + " < $1::timestamptz", []any{cond.Value}, nil
		case segmentation.OpBetween:
			return col + " BETWEEN $1::timestamptz AND $2::timestamptz", []any{cond.Value, cond.SecondValue}, nil
		case segmentation.OpInLastDays:
			return col + " >= NOW() - ($1 || ' days')::interval", []any{cond.Value}, nil
		}

	case segmentation.FieldTypeString:
		switch cond.Operator {
		case segmentation.OpEquals:
			return col + " = $1", []any{cond.Value}, nil
		case segmentation.OpNotEquals:
			return col + " != $1", []any{cond.Value}, nil
		case segmentation.OpContains:
			return col + " ILIKE $1", []any{"%" + cond.Value + "%"}, nil
		}

	case segmentation.FieldTypeTags:
		switch cond.Operator {
		case segmentation.OpEquals:
			return "$1 = ANY(" + col + ")", []any{cond.Value}, nil
		case segmentation.OpContains:
			return "EXISTS (SELECT 1 FROM unnest(" + col + ") t WHERE t ILIKE $1)", []any{"%" + cond.Value + "%"}, nil
		}
	}

	return "", nil, &domain.InvalidRuleError{
		Field:    string(cond.Field),
		Operator: string(cond.Operator),
		Reason:   fmt.Sprintf("operator not applicable to %s field", ft),
	}
}

// GetByIDs returns full customer profiles for personalization, in the
// order the database yields them.
func (r *CustomerRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Customer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(first_name,''), COALESCE(last_name,''),
		       COALESCE(location,''), total_spend, visit_count, tags,
		       last_active_at, created_at
		FROM customers
		WHERE id = ANY($1::uuid[])
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get customers: %w", err)
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		var c domain.Customer
		var lastActive sql.NullTime
		if err := rows.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Location,
			&c.TotalSpend, &c.VisitCount, pq.Array(&c.Tags), &lastActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		if lastActive.Valid {
			c.LastActive = &lastActive.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
