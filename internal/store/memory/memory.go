// Package memory keeps copies, students and borrowing records in process.
// Each table is a map keyed by ID. Transactions are serialized by a single
// mutex and work on a staged copy of the tables that replaces the committed
// tables only when the transaction succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/circulation"
	"libracheck/internal/errs"
	"libracheck/pkg/eventstore"
)

type tables struct {
	copies   map[uuid.UUID]*catalog.Copy
	students map[uuid.UUID]*accounts.Student
	records  map[uuid.UUID]*circulation.BorrowingRecord
	events   map[uuid.UUID][]eventstore.Event
	seq      int64
}

func newTables() *tables {
	return &tables{
		copies:   make(map[uuid.UUID]*catalog.Copy),
		students: make(map[uuid.UUID]*accounts.Student),
		records:  make(map[uuid.UUID]*circulation.BorrowingRecord),
		events:   make(map[uuid.UUID][]eventstore.Event),
	}
}

// stage copies the maps. Stored values are replaced on write, never mutated,
// so the values themselves can be shared.
func (t *tables) stage() *tables {
	s := &tables{
		copies:   make(map[uuid.UUID]*catalog.Copy, len(t.copies)),
		students: make(map[uuid.UUID]*accounts.Student, len(t.students)),
		records:  make(map[uuid.UUID]*circulation.BorrowingRecord, len(t.records)),
		events:   make(map[uuid.UUID][]eventstore.Event, len(t.events)),
		seq:      t.seq,
	}
	for k, v := range t.copies {
		s.copies[k] = v
	}
	for k, v := range t.students {
		s.students[k] = v
	}
	for k, v := range t.records {
		s.records[k] = v
	}
	for k, v := range t.events {
		s.events[k] = v[:len(v):len(v)]
	}
	return s
}

// Store is an in-memory circulation.Repository. It also satisfies
// catalog.Store and accounts.Store.
type Store struct {
	mu sync.Mutex
	t  *tables
}

func New() *Store {
	return &Store{t: newTables()}
}

var (
	_ circulation.Repository = (*Store)(nil)
	_ catalog.Store          = (*Store)(nil)
	_ accounts.Store         = (*Store)(nil)
	_ circulation.Tx         = (*tx)(nil)
)

// RunInTx runs fn with exclusive access to a staged copy of the tables.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &tx{t: s.t.stage()}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.t = staged.t
	return nil
}

func (s *Store) view(fn func(*tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{t: s.t})
}

func (s *Store) update(ctx context.Context, fn func(*tx) error) error {
	return s.RunInTx(ctx, func(_ context.Context, t circulation.Tx) error {
		return fn(t.(*tx))
	})
}

func (s *Store) InsertCopy(ctx context.Context, c *catalog.Copy) error {
	return s.update(ctx, func(t *tx) error { return t.InsertCopy(ctx, c) })
}

func (s *Store) GetCopy(ctx context.Context, id uuid.UUID) (c *catalog.Copy, err error) {
	err = s.view(func(t *tx) error {
		c, err = t.GetCopy(ctx, id)
		return err
	})
	return c, err
}

func (s *Store) ListCopies(ctx context.Context) (out []*catalog.Copy, err error) {
	err = s.view(func(t *tx) error {
		out, err = t.ListCopies(ctx)
		return err
	})
	return out, err
}

func (s *Store) InsertStudent(ctx context.Context, st *accounts.Student) error {
	return s.update(ctx, func(t *tx) error { return t.InsertStudent(ctx, st) })
}

func (s *Store) GetStudent(ctx context.Context, id uuid.UUID) (st *accounts.Student, err error) {
	err = s.view(func(t *tx) error {
		st, err = t.GetStudent(ctx, id)
		return err
	})
	return st, err
}

func (s *Store) GetStudentByNumber(ctx context.Context, number string) (st *accounts.Student, err error) {
	err = s.view(func(t *tx) error {
		st, err = t.GetStudentByNumber(ctx, number)
		return err
	})
	return st, err
}

func (s *Store) AddFines(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (balance decimal.Decimal, err error) {
	err = s.update(ctx, func(t *tx) error {
		balance, err = t.AddFines(ctx, id, amount)
		return err
	})
	return balance, err
}

func (s *Store) ResetFines(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, func(t *tx) error { return t.ResetFines(ctx, id) })
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (rec *circulation.BorrowingRecord, err error) {
	err = s.view(func(t *tx) error {
		rec, err = t.GetRecord(ctx, id)
		return err
	})
	return rec, err
}

func (s *Store) ListOpenRecordsByStudent(ctx context.Context, studentID uuid.UUID) ([]*circulation.BorrowingRecord, error) {
	var out []*circulation.BorrowingRecord
	err := s.view(func(t *tx) error {
		if _, ok := t.t.students[studentID]; !ok {
			return fmt.Errorf("student %s: %w", studentID, errs.ErrNotFound)
		}
		out = t.selectRecords(func(r *circulation.BorrowingRecord) bool {
			return r.StudentID == studentID && r.ReturnDate == nil
		})
		return nil
	})
	return out, err
}

func (s *Store) ListOverdueRecords(ctx context.Context, now time.Time) ([]*circulation.BorrowingRecord, error) {
	var out []*circulation.BorrowingRecord
	err := s.view(func(t *tx) error {
		out = t.selectRecords(func(r *circulation.BorrowingRecord) bool { return r.Overdue(now) })
		return nil
	})
	return out, err
}

func (s *Store) LoadHistory(ctx context.Context, recordID uuid.UUID) ([]eventstore.Event, error) {
	var out []eventstore.Event
	err := s.view(func(t *tx) error {
		if _, ok := t.t.records[recordID]; !ok {
			return fmt.Errorf("record %s: %w", recordID, errs.ErrNotFound)
		}
		out = append(out, t.t.events[recordID]...)
		return nil
	})
	return out, err
}

// tx reads and writes one set of tables. Inside RunInTx those tables are
// the staged copy.
type tx struct {
	t *tables
}

func (t *tx) InsertCopy(ctx context.Context, c *catalog.Copy) error {
	if _, ok := t.t.copies[c.ID]; ok {
		return fmt.Errorf("copy %s already exists: %w", c.ID, errs.ErrConflict)
	}
	cp := *c
	t.t.copies[c.ID] = &cp
	return nil
}

func (t *tx) GetCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error) {
	c, ok := t.t.copies[id]
	if !ok {
		return nil, fmt.Errorf("copy %s: %w", id, errs.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (t *tx) ListCopies(ctx context.Context) ([]*catalog.Copy, error) {
	out := make([]*catalog.Copy, 0, len(t.t.copies))
	for _, c := range t.t.copies {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// LockCopy needs no extra locking: the store mutex is held for the whole
// transaction.
func (t *tx) LockCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error) {
	return t.GetCopy(ctx, id)
}

func (t *tx) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	c, ok := t.t.copies[id]
	if !ok {
		return 0, fmt.Errorf("copy %s: %w", id, errs.ErrNotFound)
	}
	if c.Stock+delta < 0 {
		return c.Stock, fmt.Errorf("copy %s has no stock left: %w", id, errs.ErrUnavailable)
	}
	cp := *c
	cp.Stock += delta
	cp.UpdatedAt = time.Now().UTC()
	t.t.copies[id] = &cp
	return cp.Stock, nil
}

func (t *tx) InsertStudent(ctx context.Context, st *accounts.Student) error {
	if _, ok := t.t.students[st.ID]; ok {
		return fmt.Errorf("student %s already exists: %w", st.ID, errs.ErrConflict)
	}
	for _, existing := range t.t.students {
		if existing.StudentNumber == st.StudentNumber {
			return fmt.Errorf("student number %q is taken: %w", st.StudentNumber, errs.ErrConflict)
		}
	}
	t.t.students[st.ID] = cloneStudent(st)
	return nil
}

func (t *tx) GetStudent(ctx context.Context, id uuid.UUID) (*accounts.Student, error) {
	st, ok := t.t.students[id]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", id, errs.ErrNotFound)
	}
	return cloneStudent(st), nil
}

func (t *tx) GetStudentByNumber(ctx context.Context, number string) (*accounts.Student, error) {
	for _, st := range t.t.students {
		if st.StudentNumber == number {
			return cloneStudent(st), nil
		}
	}
	return nil, fmt.Errorf("student number %q: %w", number, errs.ErrNotFound)
}

func (t *tx) AddFines(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	st, ok := t.t.students[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("student %s: %w", id, errs.ErrNotFound)
	}
	next := cloneStudent(st)
	next.OutstandingFines = next.OutstandingFines.Add(amount)
	if next.OutstandingFines.IsNegative() {
		return st.OutstandingFines, fmt.Errorf("balance of student %s would go negative: %w", id, errs.ErrInvalid)
	}
	next.UpdatedAt = time.Now().UTC()
	t.t.students[id] = next
	return next.OutstandingFines, nil
}

func (t *tx) ResetFines(ctx context.Context, id uuid.UUID) error {
	st, ok := t.t.students[id]
	if !ok {
		return fmt.Errorf("student %s: %w", id, errs.ErrNotFound)
	}
	next := cloneStudent(st)
	next.OutstandingFines = decimal.Zero
	next.UpdatedAt = time.Now().UTC()
	t.t.students[id] = next
	return nil
}

func (t *tx) FindOpenRecords(ctx context.Context, studentID, copyID uuid.UUID) ([]*circulation.BorrowingRecord, error) {
	return t.selectRecords(func(r *circulation.BorrowingRecord) bool {
		return r.StudentID == studentID && r.CopyID == copyID && r.ReturnDate == nil
	}), nil
}

func (t *tx) GetRecord(ctx context.Context, id uuid.UUID) (*circulation.BorrowingRecord, error) {
	r, ok := t.t.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, errs.ErrNotFound)
	}
	return r.Clone(), nil
}

func (t *tx) InsertRecord(ctx context.Context, rec *circulation.BorrowingRecord) error {
	if _, ok := t.t.records[rec.ID]; ok {
		return fmt.Errorf("record %s already exists: %w", rec.ID, errs.ErrConflict)
	}
	if _, ok := t.t.students[rec.StudentID]; !ok {
		return fmt.Errorf("student %s: %w", rec.StudentID, errs.ErrNotFound)
	}
	if _, ok := t.t.copies[rec.CopyID]; !ok {
		return fmt.Errorf("copy %s: %w", rec.CopyID, errs.ErrNotFound)
	}
	if rec.ReturnDate == nil {
		for _, r := range t.t.records {
			if r.StudentID == rec.StudentID && r.CopyID == rec.CopyID && r.ReturnDate == nil {
				return fmt.Errorf("open record %s already exists: %w", r.ID, errs.ErrConflict)
			}
		}
	}
	t.t.records[rec.ID] = rec.Clone()
	return nil
}

func (t *tx) UpdateRecord(ctx context.Context, rec *circulation.BorrowingRecord) error {
	cur, ok := t.t.records[rec.ID]
	if !ok {
		return fmt.Errorf("record %s: %w", rec.ID, errs.ErrNotFound)
	}
	if cur.Version != rec.Version-1 {
		return fmt.Errorf("record %s is at version %d, not %d: %w", rec.ID, cur.Version, rec.Version-1, errs.ErrConflict)
	}
	t.t.records[rec.ID] = rec.Clone()
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, event eventstore.Event) error {
	history := t.t.events[event.AggregateID]
	if len(history) != event.Version-1 {
		return eventstore.ErrConcurrencyConflict
	}
	t.t.seq++
	event.ID = t.t.seq
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	t.t.events[event.AggregateID] = append(history, event)
	return nil
}

func (t *tx) selectRecords(keep func(*circulation.BorrowingRecord) bool) []*circulation.BorrowingRecord {
	var out []*circulation.BorrowingRecord
	for _, r := range t.t.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BorrowDate.Equal(out[j].BorrowDate) {
			return out[i].BorrowDate.Before(out[j].BorrowDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func cloneStudent(st *accounts.Student) *accounts.Student {
	cp := *st
	cp.GuardianEmails = append([]string(nil), st.GuardianEmails...)
	return &cp
}
