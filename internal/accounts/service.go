// internal/accounts/service.go
package accounts

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service defines the interface for the accounts service.
type Service interface {
	AddStudent(ctx context.Context, name, studentNumber string, guardianEmails []string) (*Student, error)
	GetStudent(ctx context.Context, id uuid.UUID) (*Student, error)
	GetStudentByNumber(ctx context.Context, studentNumber string) (*Student, error)
	PostFine(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	ClearFines(ctx context.Context, id uuid.UUID) error
	GetOutstanding(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
}
