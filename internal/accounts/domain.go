// internal/accounts/domain.go
package accounts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Student is the borrowing account. OutstandingFines is never negative.
type Student struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name"`
	StudentNumber    string          `json:"student_number"`
	OutstandingFines decimal.Decimal `json:"outstanding_fines"`
	GuardianEmails   []string        `json:"guardian_emails"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Store persists students. Lookups of unknown students return
// errs.ErrNotFound; a duplicate student number returns errs.ErrConflict.
type Store interface {
	InsertStudent(ctx context.Context, s *Student) error
	GetStudent(ctx context.Context, id uuid.UUID) (*Student, error)
	GetStudentByNumber(ctx context.Context, studentNumber string) (*Student, error)
	// AddFines adds amount to the balance and returns the new balance.
	AddFines(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	ResetFines(ctx context.Context, id uuid.UUID) error
}
