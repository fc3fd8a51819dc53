// internal/circulation/implementation.go
package circulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/damage"
	"libracheck/internal/errs"
	"libracheck/internal/evidence"
	"libracheck/internal/notify"
	"libracheck/internal/storage"
	"libracheck/pkg/eventstore"
)

// service implements the Service interface.
type service struct {
	repo      Repository
	collector Collector
	notifier  notify.Notifier
	tariff    damage.Tariff
	opts      Options
	logger    logr.Logger
	tracer    trace.Tracer

	borrows       metric.Int64Counter
	returns       metric.Int64Counter
	finesPosted   metric.Float64Counter
	notifyFailure metric.Int64Counter
}

// NewService creates a new circulation service instance.
func NewService(repo Repository, collector Collector, notifier notify.Notifier, tariff damage.Tariff, opts Options, logger logr.Logger) Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	meter := otel.Meter("libracheck/circulation")
	borrows, _ := meter.Int64Counter("circulation.borrows", metric.WithDescription("Confirmed borrows"))
	returns, _ := meter.Int64Counter("circulation.returns", metric.WithDescription("Closed borrowing records"))
	finesPosted, _ := meter.Float64Counter("circulation.fines.posted", metric.WithDescription("Fine amount posted to student balances"))
	notifyFailure, _ := meter.Int64Counter("circulation.notify.failures", metric.WithDescription("Guardian emails that could not be sent"))

	return &service{
		repo:          repo,
		collector:     collector,
		notifier:      notifier,
		tariff:        tariff,
		opts:          opts,
		logger:        logger.WithName("circulation"),
		tracer:        otel.Tracer("libracheck/circulation"),
		borrows:       borrows,
		returns:       returns,
		finesPosted:   finesPosted,
		notifyFailure: notifyFailure,
	}
}

func (s *service) now() time.Time {
	return s.opts.Now().UTC()
}

// Borrow runs the check-decrement-insert sequence with the copy row locked.
func (s *service) Borrow(ctx context.Context, studentID, copyID uuid.UUID, dueDate *time.Time) (*BorrowingRecord, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(
			attribute.String("student.id", studentID.String()),
			attribute.String("copy.id", copyID.String()),
		),
	)
	defer span.End()

	now := s.now()
	if dueDate == nil && s.opts.DefaultLoanDays > 0 {
		d := now.AddDate(0, 0, s.opts.DefaultLoanDays)
		dueDate = &d
	}
	if dueDate != nil && dueDate.Before(now) {
		return nil, fmt.Errorf("due date %s is in the past: %w", dueDate.Format(time.DateOnly), errs.ErrInvalid)
	}

	var rec *BorrowingRecord
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetStudent(ctx, studentID); err != nil {
			return fmt.Errorf("failed to resolve student: %w", err)
		}
		c, err := tx.LockCopy(ctx, copyID)
		if err != nil {
			return fmt.Errorf("failed to resolve copy: %w", err)
		}

		open, err := tx.FindOpenRecords(ctx, studentID, copyID)
		if err != nil {
			return fmt.Errorf("failed to look up open records: %w", err)
		}
		if len(open) > 0 {
			return fmt.Errorf("student %s already has %q borrowed: %w", studentID, c.Title, errs.ErrConflict)
		}
		if c.Stock <= 0 {
			return fmt.Errorf("%q has no stock left: %w", c.Title, errs.ErrUnavailable)
		}

		stock, err := tx.AdjustStock(ctx, copyID, -1)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}

		rec = &BorrowingRecord{
			ID:         uuid.New(),
			StudentID:  studentID,
			CopyID:     copyID,
			BorrowDate: now,
			DueDate:    dueDate,
			FineAmount: decimal.Zero,
			Version:    1,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to insert borrowing record: %w", err)
		}

		return appendEvent(ctx, tx, rec, EventBookBorrowed, BookBorrowedEvent{
			RecordID:   rec.ID,
			StudentID:  studentID,
			CopyID:     copyID,
			BorrowDate: now,
			DueDate:    dueDate,
			StockAfter: stock,
		})
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.borrows.Add(ctx, 1)
	span.SetAttributes(attribute.String("record.id", rec.ID.String()))
	s.logger.Info("book borrowed", "record_id", rec.ID, "student_id", studentID, "copy_id", copyID)
	return rec, nil
}

// AttachBorrowEvidence collects the snapshot before opening a transaction so
// that no lock is held across network calls.
func (s *service) AttachBorrowEvidence(ctx context.Context, recordID uuid.UUID, images []evidence.Image) (*BorrowingRecord, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.attach_borrow_evidence",
		trace.WithAttributes(
			attribute.String("record.id", recordID.String()),
			attribute.Int("images", len(images)),
		),
	)
	defer span.End()

	rec, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if rec.State() == StateClosed {
		err := fmt.Errorf("record %s is already closed: %w", recordID, errs.ErrConflict)
		recordError(span, err)
		return nil, err
	}
	c, err := s.repo.GetCopy(ctx, rec.CopyID)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to get copy: %w", err)
	}
	student, err := s.repo.GetStudent(ctx, rec.StudentID)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	container := evidenceContainer(c.Title, phaseBorrow, recordID, s.now())
	snap := s.collector.Collect(ctx, container, images)

	var updated *BorrowingRecord
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.GetRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("failed to reload record: %w", err)
		}
		if cur.State() == StateClosed {
			return fmt.Errorf("record %s was closed meanwhile: %w", recordID, errs.ErrConflict)
		}

		cur.BorrowConditionTags = evidence.Union(cur.BorrowConditionTags, snap.Tags)
		cur.EvidenceImages = evidence.Union(cur.EvidenceImages, snap.Images)
		cur.Version++
		if err := tx.UpdateRecord(ctx, cur); err != nil {
			return fmt.Errorf("failed to update record: %w", err)
		}
		updated = cur

		return appendEvent(ctx, tx, cur, EventBorrowEvidenceAttached, BorrowEvidenceAttachedEvent{
			RecordID: recordID,
			Tags:     snap.Tags,
			Images:   snap.Images,
		})
	})
	if err != nil {
		recordError(span, err)
		s.discard(ctx, recordID, snap)
		return nil, err
	}

	span.SetAttributes(attribute.Int("tags.count", len(updated.BorrowConditionTags)))
	s.logger.Info("borrow evidence attached", "record_id", recordID,
		"tags", len(snap.Tags), "images", len(snap.Images))

	s.sendNotice(ctx, recordID, student.GuardianEmails, func() (notify.Message, error) {
		return notify.BorrowNotice(notify.BorrowDetails{
			StudentName:   student.Name,
			StudentNumber: student.StudentNumber,
			Title:         c.Title,
			Author:        c.Author,
			BorrowDate:    updated.BorrowDate,
			DueDate:       updated.DueDate,
			Images:        updated.EvidenceImages,
		})
	})
	return updated, nil
}

// Return closes the record, restores stock and posts the fine in one
// transaction. The return snapshot is collected beforehand.
func (s *service) Return(ctx context.Context, studentNumber string, copyID uuid.UUID, images []evidence.Image) (*BorrowingRecord, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(
			attribute.String("student.number", studentNumber),
			attribute.String("copy.id", copyID.String()),
			attribute.Int("images", len(images)),
		),
	)
	defer span.End()

	student, err := s.repo.GetStudentByNumber(ctx, studentNumber)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to resolve student: %w", err)
	}
	c, err := s.repo.GetCopy(ctx, copyID)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to resolve copy: %w", err)
	}
	open, err := s.openRecordsFor(ctx, student.ID, copyID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	rec, err := exactlyOne(open, student, c)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	container := evidenceContainer(c.Title, phaseReturn, rec.ID, s.now())
	snap := s.collector.Collect(ctx, container, images)

	var (
		closed     *BorrowingRecord
		assessment damage.Assessment
		balance    decimal.Decimal
	)
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockCopy(ctx, copyID)
		if err != nil {
			return fmt.Errorf("failed to lock copy: %w", err)
		}
		stillOpen, err := tx.FindOpenRecords(ctx, student.ID, copyID)
		if err != nil {
			return fmt.Errorf("failed to look up open records: %w", err)
		}
		cur, err := exactlyOne(stillOpen, student, locked)
		if err != nil {
			return err
		}
		if cur.ID != rec.ID {
			return fmt.Errorf("record %s was returned meanwhile: %w", rec.ID, errs.ErrNotFound)
		}

		returnDate := s.now()
		cur.ReturnDate = &returnDate
		cur.ReturnConditionTags = evidence.Union(snap.Tags)
		cur.EvidenceImages = evidence.Union(cur.EvidenceImages, snap.Images)
		assessment = damage.Assess(s.tariff, cur.BorrowConditionTags, cur.ReturnConditionTags, locked.UnitPrice)
		cur.FineAmount = assessment.Amount
		cur.Version++

		stock, err := tx.AdjustStock(ctx, copyID, 1)
		if err != nil {
			return fmt.Errorf("failed to increment stock: %w", err)
		}
		if err := tx.UpdateRecord(ctx, cur); err != nil {
			return fmt.Errorf("failed to close record: %w", err)
		}
		balance, err = accounts.NewLedger(tx).PostFine(ctx, student.ID, assessment.Amount)
		if err != nil {
			return err
		}
		closed = cur

		return appendEvent(ctx, tx, cur, EventBookReturned, BookReturnedEvent{
			RecordID:   cur.ID,
			StudentID:  student.ID,
			CopyID:     copyID,
			ReturnDate: returnDate,
			Tags:       cur.ReturnConditionTags,
			Images:     snap.Images,
			NewDamage:  assessment.NewDamage,
			Lost:       assessment.Lost,
			Fine:       assessment.Amount,
			Balance:    balance,
			StockAfter: stock,
		})
	})
	if err != nil {
		recordError(span, err)
		s.discard(ctx, rec.ID, snap)
		return nil, err
	}

	s.returns.Add(ctx, 1)
	s.finesPosted.Add(ctx, assessment.Amount.InexactFloat64())
	span.SetAttributes(
		attribute.String("record.id", closed.ID.String()),
		attribute.String("fine", assessment.Amount.StringFixed(2)),
		attribute.Bool("lost", assessment.Lost),
	)
	s.logger.Info("book returned", "record_id", closed.ID, "student_id", student.ID,
		"fine", assessment.Amount.StringFixed(2), "new_damage", assessment.NewDamage, "balance", balance.StringFixed(2))

	s.sendNotice(ctx, closed.ID, student.GuardianEmails, func() (notify.Message, error) {
		return notify.ReturnNotice(notify.ReturnDetails{
			StudentName:   student.Name,
			StudentNumber: student.StudentNumber,
			Title:         c.Title,
			Author:        c.Author,
			ReturnDate:    *closed.ReturnDate,
			Images:        snap.Images,
			Amount:        assessment.Amount,
			Issues:        assessment.NewDamage,
			Lost:          assessment.Lost,
		})
	})
	return closed, nil
}

const (
	phaseBorrow = "b"
	phaseReturn = "r"
)

// evidenceContainer names the container holding one record's images for one
// phase. The title is shortened first so the record ID always survives.
func evidenceContainer(title, phase string, recordID uuid.UUID, at time.Time) string {
	return storage.ContainerName(title, phase,
		strings.ReplaceAll(recordID.String(), "-", ""),
		strconv.FormatInt(at.UnixMilli(), 10))
}

func (s *service) openRecordsFor(ctx context.Context, studentID, copyID uuid.UUID) ([]*BorrowingRecord, error) {
	all, err := s.repo.ListOpenRecordsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open records: %w", err)
	}
	var out []*BorrowingRecord
	for _, r := range all {
		if r.CopyID == copyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func exactlyOne(open []*BorrowingRecord, student *accounts.Student, c *catalog.Copy) (*BorrowingRecord, error) {
	switch len(open) {
	case 0:
		return nil, fmt.Errorf("no open borrowing of %q by %s: %w", c.Title, student.StudentNumber, errs.ErrNotFound)
	case 1:
		return open[0], nil
	default:
		return nil, fmt.Errorf("%d open borrowings of %q by %s: %w", len(open), c.Title, student.StudentNumber, errs.ErrConflict)
	}
}

func (s *service) GetRecord(ctx context.Context, id uuid.UUID) (*BorrowingRecord, error) {
	rec, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (s *service) ListOpenBorrowings(ctx context.Context, studentID uuid.UUID) ([]*BorrowingRecord, error) {
	recs, err := s.repo.ListOpenRecordsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open records: %w", err)
	}
	return recs, nil
}

func (s *service) History(ctx context.Context, recordID uuid.UUID) ([]eventstore.Event, error) {
	events, err := s.repo.LoadHistory(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return events, nil
}

// discard compensates for uploads whose record update did not commit.
func (s *service) discard(ctx context.Context, recordID uuid.UUID, snap evidence.Snapshot) {
	if snap.Empty() {
		return
	}
	s.logger.Info("discarding evidence of uncommitted update", "record_id", recordID, "images", len(snap.Images))
	s.collector.Discard(context.WithoutCancel(ctx), snap)
}

// sendNotice emails the guardians. Failures are logged; they never fail the
// operation that triggered the notice.
func (s *service) sendNotice(ctx context.Context, recordID uuid.UUID, recipients []string, render func() (notify.Message, error)) {
	if len(recipients) == 0 {
		s.logger.Info("no guardian emails, skipping notification", "record_id", recordID)
		return
	}
	msg, err := render()
	if err != nil {
		s.logger.Error(err, "failed to render notification", "record_id", recordID)
		s.notifyFailure.Add(ctx, 1)
		return
	}
	if err := s.notifier.SendEmail(ctx, recipients, msg.Subject, msg.Plain, msg.HTML); err != nil {
		s.logger.Error(err, "failed to send notification", "record_id", recordID, "subject", msg.Subject)
		s.notifyFailure.Add(ctx, 1)
	}
}

func appendEvent(ctx context.Context, tx Tx, rec *BorrowingRecord, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	event := eventstore.Event{
		AggregateID:   rec.ID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     payload,
		Version:       rec.Version,
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return fmt.Errorf("failed to append event: %w: %w", errs.ErrConflict, err)
		}
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
