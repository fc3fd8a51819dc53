// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a borrowing record.
type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
)

// AggregateType names borrowing records in the event log.
const AggregateType = "borrowing_record"

// BorrowingRecord tracks one borrow of one copy by one student. It is never
// deleted; ReturnDate is set exactly once and its presence closes the record.
type BorrowingRecord struct {
	ID                  uuid.UUID       `json:"id"`
	StudentID           uuid.UUID       `json:"student_id"`
	CopyID              uuid.UUID       `json:"copy_id"`
	BorrowDate          time.Time       `json:"borrow_date"`
	DueDate             *time.Time      `json:"due_date,omitempty"`
	ReturnDate          *time.Time      `json:"return_date,omitempty"`
	BorrowConditionTags []string        `json:"borrow_condition_tags"`
	ReturnConditionTags []string        `json:"return_condition_tags"`
	EvidenceImages      []string        `json:"evidence_images"`
	FineAmount          decimal.Decimal `json:"fine_amount"`
	Version             int             `json:"version"`
}

// State reports whether the record is still open.
func (r *BorrowingRecord) State() State {
	if r.ReturnDate == nil {
		return StateOpen
	}
	return StateClosed
}

// Overdue reports whether an open record is past its due date at now.
func (r *BorrowingRecord) Overdue(now time.Time) bool {
	return r.ReturnDate == nil && r.DueDate != nil && now.After(*r.DueDate)
}

// Clone returns a deep copy of the record.
func (r *BorrowingRecord) Clone() *BorrowingRecord {
	c := *r
	if r.DueDate != nil {
		d := *r.DueDate
		c.DueDate = &d
	}
	if r.ReturnDate != nil {
		d := *r.ReturnDate
		c.ReturnDate = &d
	}
	c.BorrowConditionTags = append([]string(nil), r.BorrowConditionTags...)
	c.ReturnConditionTags = append([]string(nil), r.ReturnConditionTags...)
	c.EvidenceImages = append([]string(nil), r.EvidenceImages...)
	return &c
}

// Event types appended to a record's history.
const (
	EventBookBorrowed           = "BookBorrowed"
	EventBorrowEvidenceAttached = "BorrowEvidenceAttached"
	EventBookReturned           = "BookReturned"
)

// BookBorrowedEvent is recorded when a borrow is confirmed.
type BookBorrowedEvent struct {
	RecordID   uuid.UUID  `json:"record_id"`
	StudentID  uuid.UUID  `json:"student_id"`
	CopyID     uuid.UUID  `json:"copy_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	StockAfter int        `json:"stock_after"`
}

// BorrowEvidenceAttachedEvent is recorded for each evidence upload.
type BorrowEvidenceAttachedEvent struct {
	RecordID uuid.UUID `json:"record_id"`
	Tags     []string  `json:"tags"`
	Images   []string  `json:"images"`
}

// BookReturnedEvent is recorded when the record closes.
type BookReturnedEvent struct {
	RecordID   uuid.UUID       `json:"record_id"`
	StudentID  uuid.UUID       `json:"student_id"`
	CopyID     uuid.UUID       `json:"copy_id"`
	ReturnDate time.Time       `json:"return_date"`
	Tags       []string        `json:"tags"`
	Images     []string        `json:"images"`
	NewDamage  []string        `json:"new_damage"`
	Lost       bool            `json:"lost"`
	Fine       decimal.Decimal `json:"fine"`
	Balance    decimal.Decimal `json:"balance"`
	StockAfter int             `json:"stock_after"`
}
