// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"libracheck/internal/evidence"
	"libracheck/pkg/eventstore"
)

// Service defines the interface for the borrowing lifecycle.
type Service interface {
	// Borrow opens a record for the student and takes one unit of stock.
	// A nil dueDate falls back to the configured loan period.
	Borrow(ctx context.Context, studentID, copyID uuid.UUID, dueDate *time.Time) (*BorrowingRecord, error)
	// AttachBorrowEvidence folds the tags and image URLs of images into an
	// open record. Repeated calls accumulate.
	AttachBorrowEvidence(ctx context.Context, recordID uuid.UUID, images []evidence.Image) (*BorrowingRecord, error)
	// Return closes the single open record of the student for the copy,
	// prices newly observed damage and posts the fine.
	Return(ctx context.Context, studentNumber string, copyID uuid.UUID, images []evidence.Image) (*BorrowingRecord, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*BorrowingRecord, error)
	ListOpenBorrowings(ctx context.Context, studentID uuid.UUID) ([]*BorrowingRecord, error)
	History(ctx context.Context, recordID uuid.UUID) ([]eventstore.Event, error)
	// SweepOverdue reminds guardians of every open record past due at now
	// and reports how many reminders were sent.
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

// Collector gathers a condition snapshot from uploaded images.
type Collector interface {
	Collect(ctx context.Context, container string, images []evidence.Image) evidence.Snapshot
	Discard(ctx context.Context, snap evidence.Snapshot)
}

// Options tune the lifecycle.
type Options struct {
	// DefaultLoanDays sets the due date of a borrow made without one.
	// Zero leaves such borrows without a due date.
	DefaultLoanDays int
	// Now replaces the clock in tests.
	Now func() time.Time
}
