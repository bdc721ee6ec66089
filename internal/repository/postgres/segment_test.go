package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
)

func TestSegmentRepo_Insert(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	seg := &segmentation.Segment{
		ID:          uuid.New(),
		Name:        "High spenders",
		Description: "Spend over 10k",
		Rules: segmentation.Cond(segmentation.FieldTotalSpend, segmentation.OpGreaterThan, "10000"),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO segments").
		WithArgs(seg.ID, seg.Name, seg.Description, sqlmock.AnyArg(), seg.CreatedAt, seg.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSegmentRepo(db)
	if err := repo.Insert(context.Background(), seg); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestSegmentRepo_GetByID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	id := uuid.New()
	now := time.Now()
	rules := []byte(`{"field":"total_spend","operator":"greater_than","value":"10000"}`)
	mock.ExpectQuery("SELECT id, name").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "description", "rules", "created_at", "updated_at"},
		).AddRow(id, "High spenders", "", rules, now, now))

	repo := NewSegmentRepo(db)
	seg, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if seg.Rules.Condition == nil {
		t.Fatal("Rules should decode to a condition leaf")
	}
	if seg.Rules.Condition.Field != segmentation.FieldTotalSpend {
		t.Errorf("Rules.Condition.Field = %s, want total_spend", seg.Rules.Condition.Field)
	}
	if seg.Rules.Condition.Value != "10000" {
		t.Errorf("Rules.Condition.Value = %s, want 10000", seg.Rules.Condition.Value)
	}
	expectationsMet(t, mock)
}

func TestSegmentRepo_GetByID_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, name").
		WillReturnError(sql.ErrNoRows)

	repo := NewSegmentRepo(db)
	_, err := repo.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}
