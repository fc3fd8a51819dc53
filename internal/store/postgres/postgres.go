// Package postgres stores copies, students and borrowing records in
// PostgreSQL. Row locks on copies serialize the lifecycle operations that
// touch the same copy. A partial unique index backs the one-open-record rule.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/circulation"
	"libracheck/internal/errs"
	"libracheck/pkg/eventstore"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	checkViolation      = "23514"
)

// Store is a circulation.Repository over a connection pool.
type Store struct {
	queries
	db     *sqlx.DB
	events *eventstore.EventStore
}

var (
	_ circulation.Repository = (*Store)(nil)
	_ circulation.Tx         = (*tx)(nil)
)

func New(db *sqlx.DB) *Store {
	return &Store{
		queries: queries{ext: db},
		db:      db,
		events:  eventstore.NewEventStore(db),
	}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// RunInTx runs fn in a read committed transaction. Critical sections lock the
// copy row first, so concurrent operations on one copy run one at a time.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	t := &tx{queries: queries{ext: sqlTx}, events: s.events.WithTx(sqlTx)}
	if err := fn(ctx, t); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

func (s *Store) ListOpenRecordsByStudent(ctx context.Context, studentID uuid.UUID) ([]*circulation.BorrowingRecord, error) {
	if _, err := s.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	return s.selectRecords(ctx, `WHERE student_id = $1 AND return_date IS NULL`, studentID)
}

func (s *Store) ListOverdueRecords(ctx context.Context, now time.Time) ([]*circulation.BorrowingRecord, error) {
	return s.selectRecords(ctx, `WHERE return_date IS NULL AND due_date IS NOT NULL AND due_date < $1`, now)
}

func (s *Store) LoadHistory(ctx context.Context, recordID uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	events, err := s.events.LoadEvents(ctx, recordID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of record %s: %w", recordID, err)
	}
	return events, nil
}

type tx struct {
	queries
	events *eventstore.EventStore
}

func (t *tx) LockCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error) {
	var c catalog.Copy
	err := sqlx.GetContext(ctx, t.ext, &c, `SELECT `+copyColumns+` FROM copies WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock copy %s: %w", id, mapError(err))
	}
	return &c, nil
}

func (t *tx) AppendEvent(ctx context.Context, event eventstore.Event) error {
	err := t.events.AppendEvents(ctx, event.AggregateID, event.AggregateType, event.Version-1, []eventstore.Event{event})
	if err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.EventType, err)
	}
	return nil
}

// queries run against either the pool or a transaction.
type queries struct {
	ext sqlx.ExtContext
}

const copyColumns = `id, title, author, isbn, unit_price, stock, created_at, updated_at`

func (q queries) InsertCopy(ctx context.Context, c *catalog.Copy) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO copies (`+copyColumns+`)
		VALUES (:id, :title, :author, :isbn, :unit_price, :stock, :created_at, :updated_at)
	`, c)
	if err != nil {
		return fmt.Errorf("failed to insert copy %s: %w", c.ID, mapError(err))
	}
	return nil
}

func (q queries) GetCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error) {
	var c catalog.Copy
	if err := sqlx.GetContext(ctx, q.ext, &c, `SELECT `+copyColumns+` FROM copies WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get copy %s: %w", id, mapError(err))
	}
	return &c, nil
}

func (q queries) ListCopies(ctx context.Context) ([]*catalog.Copy, error) {
	var out []*catalog.Copy
	if err := sqlx.SelectContext(ctx, q.ext, &out, `SELECT `+copyColumns+` FROM copies ORDER BY title, id`); err != nil {
		return nil, fmt.Errorf("failed to list copies: %w", err)
	}
	return out, nil
}

func (q queries) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var stock int
	err := sqlx.GetContext(ctx, q.ext, &stock, `
		UPDATE copies SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock
	`, id, delta)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := q.GetCopy(ctx, id); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("copy %s has no stock left: %w", id, errs.ErrUnavailable)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust stock of copy %s: %w", id, mapError(err))
	}
	return stock, nil
}

type studentRow struct {
	ID               uuid.UUID       `db:"id"`
	Name             string          `db:"name"`
	StudentNumber    string          `db:"student_number"`
	OutstandingFines decimal.Decimal `db:"outstanding_fines"`
	GuardianEmails   pq.StringArray  `db:"guardian_emails"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r studentRow) student() *accounts.Student {
	return &accounts.Student{
		ID:               r.ID,
		Name:             r.Name,
		StudentNumber:    r.StudentNumber,
		OutstandingFines: r.OutstandingFines,
		GuardianEmails:   []string(r.GuardianEmails),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

const studentColumns = `id, name, student_number, outstanding_fines, guardian_emails, created_at, updated_at`

func (q queries) InsertStudent(ctx context.Context, st *accounts.Student) error {
	emails := st.GuardianEmails
	if emails == nil {
		emails = []string{}
	}
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO students (`+studentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, st.ID, st.Name, st.StudentNumber, st.OutstandingFines, pq.StringArray(emails), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert student %q: %w", st.StudentNumber, mapError(err))
	}
	return nil
}

func (q queries) GetStudent(ctx context.Context, id uuid.UUID) (*accounts.Student, error) {
	var row studentRow
	if err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get student %s: %w", id, mapError(err))
	}
	return row.student(), nil
}

func (q queries) GetStudentByNumber(ctx context.Context, number string) (*accounts.Student, error) {
	var row studentRow
	if err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+studentColumns+` FROM students WHERE student_number = $1`, number); err != nil {
		return nil, fmt.Errorf("failed to get student number %q: %w", number, mapError(err))
	}
	return row.student(), nil
}

func (q queries) AddFines(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, q.ext, &balance, `
		UPDATE students SET outstanding_fines = outstanding_fines + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING outstanding_fines
	`, id, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to post fine to student %s: %w", id, mapError(err))
	}
	return balance, nil
}

func (q queries) ResetFines(ctx context.Context, id uuid.UUID) error {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE students SET outstanding_fines = 0, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to clear fines of student %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("student %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

type recordRow struct {
	ID                  uuid.UUID       `db:"id"`
	StudentID           uuid.UUID       `db:"student_id"`
	CopyID              uuid.UUID       `db:"copy_id"`
	BorrowDate          time.Time       `db:"borrow_date"`
	DueDate             *time.Time      `db:"due_date"`
	ReturnDate          *time.Time      `db:"return_date"`
	BorrowConditionTags pq.StringArray  `db:"borrow_condition_tags"`
	ReturnConditionTags pq.StringArray  `db:"return_condition_tags"`
	EvidenceImages      pq.StringArray  `db:"evidence_images"`
	FineAmount          decimal.Decimal `db:"fine_amount"`
	Version             int             `db:"version"`
}

func toRow(rec *circulation.BorrowingRecord) recordRow {
	return recordRow{
		ID:                  rec.ID,
		StudentID:           rec.StudentID,
		CopyID:              rec.CopyID,
		BorrowDate:          rec.BorrowDate,
		DueDate:             rec.DueDate,
		ReturnDate:          rec.ReturnDate,
		BorrowConditionTags: nonNil(rec.BorrowConditionTags),
		ReturnConditionTags: nonNil(rec.ReturnConditionTags),
		EvidenceImages:      nonNil(rec.EvidenceImages),
		FineAmount:          rec.FineAmount,
		Version:             rec.Version,
	}
}

func (r recordRow) record() *circulation.BorrowingRecord {
	return &circulation.BorrowingRecord{
		ID:                  r.ID,
		StudentID:           r.StudentID,
		CopyID:              r.CopyID,
		BorrowDate:          r.BorrowDate,
		DueDate:             r.DueDate,
		ReturnDate:          r.ReturnDate,
		BorrowConditionTags: emptyToNil(r.BorrowConditionTags),
		ReturnConditionTags: emptyToNil(r.ReturnConditionTags),
		EvidenceImages:      emptyToNil(r.EvidenceImages),
		FineAmount:          r.FineAmount,
		Version:             r.Version,
	}
}

func nonNil(s []string) pq.StringArray {
	if s == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(s)
}

func emptyToNil(s pq.StringArray) []string {
	if len(s) == 0 {
		return nil
	}
	return []string(s)
}

const recordColumns = `id, student_id, copy_id, borrow_date, due_date, return_date,
	borrow_condition_tags, return_condition_tags, evidence_images, fine_amount, version`

func (q queries) GetRecord(ctx context.Context, id uuid.UUID) (*circulation.BorrowingRecord, error) {
	var row recordRow
	if err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+recordColumns+` FROM borrowing_records WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, mapError(err))
	}
	return row.record(), nil
}

func (q queries) FindOpenRecords(ctx context.Context, studentID, copyID uuid.UUID) ([]*circulation.BorrowingRecord, error) {
	return q.selectRecords(ctx, `WHERE student_id = $1 AND copy_id = $2 AND return_date IS NULL`, studentID, copyID)
}

func (q queries) InsertRecord(ctx context.Context, rec *circulation.BorrowingRecord) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO borrowing_records (`+recordColumns+`)
		VALUES (:id, :student_id, :copy_id, :borrow_date, :due_date, :return_date,
			:borrow_condition_tags, :return_condition_tags, :evidence_images, :fine_amount, :version)
	`, toRow(rec))
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, mapError(err))
	}
	return nil
}

func (q queries) UpdateRecord(ctx context.Context, rec *circulation.BorrowingRecord) error {
	row := toRow(rec)
	res, err := q.ext.ExecContext(ctx, `
		UPDATE borrowing_records SET
			due_date = $2,
			return_date = $3,
			borrow_condition_tags = $4,
			return_condition_tags = $5,
			evidence_images = $6,
			fine_amount = $7,
			version = $8
		WHERE id = $1 AND version = $9
	`, row.ID, row.DueDate, row.ReturnDate, row.BorrowConditionTags, row.ReturnConditionTags,
		row.EvidenceImages, row.FineAmount, row.Version, row.Version-1)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.ID, mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.GetRecord(ctx, rec.ID); err != nil {
			return err
		}
		return fmt.Errorf("record %s is not at version %d: %w", rec.ID, rec.Version-1, errs.ErrConflict)
	}
	return nil
}

func (q queries) selectRecords(ctx context.Context, where string, args ...interface{}) ([]*circulation.BorrowingRecord, error) {
	var rows []recordRow
	query := `SELECT ` + recordColumns + ` FROM borrowing_records ` + where + ` ORDER BY borrow_date, id`
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	out := make([]*circulation.BorrowingRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// mapError translates driver errors into the errs taxonomy.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case uniqueViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, errs.ErrConflict)
	case foreignKeyViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, errs.ErrNotFound)
	case checkViolation:
		if pqErr.Table == "copies" {
			return fmt.Errorf("%s: %w", pqErr.Constraint, errs.ErrUnavailable)
		}
		return fmt.Errorf("%s: %w", pqErr.Constraint, errs.ErrInvalid)
	}
	return err
}
