package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/pkg/eventstore"
)

// Tx is the unit of work the lifecycle runs its critical sections in.
// Everything written through a Tx commits or rolls back together.
type Tx interface {
	catalog.Store
	accounts.Store

	// LockCopy loads a copy and holds it exclusively until the
	// transaction ends.
	LockCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error)
	// AdjustStock adds delta to the stock of a copy and returns the new
	// stock. It fails with errs.ErrUnavailable rather than go below zero.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error)
	FindOpenRecords(ctx context.Context, studentID, copyID uuid.UUID) ([]*BorrowingRecord, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*BorrowingRecord, error)
	InsertRecord(ctx context.Context, rec *BorrowingRecord) error
	// UpdateRecord stores rec, whose Version must be one more than the
	// stored version; otherwise it fails with errs.ErrConflict.
	UpdateRecord(ctx context.Context, rec *BorrowingRecord) error
	AppendEvent(ctx context.Context, event eventstore.Event) error
}

// Repository persists borrowing records together with the copies and
// students they reference.
type Repository interface {
	catalog.Store
	accounts.Store

	// RunInTx runs fn in a transaction, committing when fn returns nil.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetRecord(ctx context.Context, id uuid.UUID) (*BorrowingRecord, error)
	ListOpenRecordsByStudent(ctx context.Context, studentID uuid.UUID) ([]*BorrowingRecord, error)
	ListOverdueRecords(ctx context.Context, now time.Time) ([]*BorrowingRecord, error)
	LoadHistory(ctx context.Context, recordID uuid.UUID) ([]eventstore.Event, error)
}
