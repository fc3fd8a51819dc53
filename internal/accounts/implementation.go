// internal/accounts/implementation.go
package accounts

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libracheck/internal/errs"
)

// service implements the Service interface.
type service struct {
	store  Store
	ledger *Ledger
}

// NewService creates a new accounts service instance.
func NewService(store Store) Service {
	return &service{
		store:  store,
		ledger: NewLedger(store),
	}
}

// AddStudent creates a student record with an empty balance.
func (s *service) AddStudent(ctx context.Context, name, studentNumber string, guardianEmails []string) (*Student, error) {
	name = strings.TrimSpace(name)
	studentNumber = strings.TrimSpace(studentNumber)
	if name == "" || studentNumber == "" {
		return nil, fmt.Errorf("name and student number are required: %w", errs.ErrInvalid)
	}

	emails := make([]string, 0, len(guardianEmails))
	for _, e := range guardianEmails {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		addr, err := mail.ParseAddress(e)
		if err != nil {
			return nil, fmt.Errorf("guardian email %q: %w", e, errs.ErrInvalid)
		}
		emails = append(emails, addr.Address)
	}

	now := time.Now().UTC()
	student := &Student{
		ID:               uuid.New(),
		Name:             name,
		StudentNumber:    studentNumber,
		OutstandingFines: decimal.Zero,
		GuardianEmails:   emails,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertStudent(ctx, student); err != nil {
		return nil, fmt.Errorf("failed to insert student: %w", err)
	}
	return student, nil
}

func (s *service) GetStudent(ctx context.Context, id uuid.UUID) (*Student, error) {
	student, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get student %s: %w", id, err)
	}
	return student, nil
}

func (s *service) GetStudentByNumber(ctx context.Context, studentNumber string) (*Student, error) {
	student, err := s.store.GetStudentByNumber(ctx, strings.TrimSpace(studentNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to get student %q: %w", studentNumber, err)
	}
	return student, nil
}

func (s *service) PostFine(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.ledger.PostFine(ctx, id, amount)
}

func (s *service) ClearFines(ctx context.Context, id uuid.UUID) error {
	return s.ledger.ClearFines(ctx, id)
}

func (s *service) GetOutstanding(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return s.ledger.GetOutstanding(ctx, id)
}
