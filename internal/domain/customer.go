package domain

import (
	"time"

	"github.com/google/uuid"
)

// Customer represents a recipient profile in the customer store. The
// segmentation engine evaluates rule conditions against the attribute
// fields; the dispatcher uses the identity fields for personalization.
type Customer struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Email      string     `json:"email" db:"email"`
	FirstName  string     `json:"first_name" db:"first_name"`
	LastName   string     `json:"last_name" db:"last_name"`
	Location   string     `json:"location" db:"location"`
	TotalSpend float64    `json:"total_spend" db:"total_spend"`
	VisitCount int        `json:"visit_count" db:"visit_count"`
	Tags       []string   `json:"tags,omitempty"`
	LastActive *time.Time `json:"last_active_at,omitempty" db:"last_active_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
