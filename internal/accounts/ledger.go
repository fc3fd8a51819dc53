package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libracheck/internal/errs"
)

// Ledger keeps the running fine balance of each student. It works on any
// Store, so the circulation package runs it inside its own transaction.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// PostFine adds amount to the student's balance and returns the new balance.
// Fines accumulate; a zero amount leaves the balance unchanged.
func (l *Ledger) PostFine(ctx context.Context, studentID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("fine %s is negative: %w", amount, errs.ErrInvalid)
	}
	if amount.IsZero() {
		return l.GetOutstanding(ctx, studentID)
	}
	balance, err := l.store.AddFines(ctx, studentID, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to post fine for student %s: %w", studentID, err)
	}
	return balance, nil
}

// ClearFines resets the balance to zero.
func (l *Ledger) ClearFines(ctx context.Context, studentID uuid.UUID) error {
	if err := l.store.ResetFines(ctx, studentID); err != nil {
		return fmt.Errorf("failed to clear fines for student %s: %w", studentID, err)
	}
	return nil
}

func (l *Ledger) GetOutstanding(ctx context.Context, studentID uuid.UUID) (decimal.Decimal, error) {
	s, err := l.store.GetStudent(ctx, studentID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get student %s: %w", studentID, err)
	}
	return s.OutstandingFines, nil
}
