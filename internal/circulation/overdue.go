package circulation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libracheck/internal/notify"
)

func (s *service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.sweep_overdue",
		trace.WithAttributes(attribute.String("now", now.UTC().Format(time.RFC3339))),
	)
	defer span.End()

	overdue, err := s.repo.ListOverdueRecords(ctx, now)
	if err != nil {
		recordError(span, err)
		return 0, fmt.Errorf("failed to list overdue records: %w", err)
	}

	sent := 0
	for _, rec := range overdue {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		log := s.logger.WithValues("record_id", rec.ID)

		student, err := s.repo.GetStudent(ctx, rec.StudentID)
		if err != nil {
			log.Error(err, "failed to resolve student of overdue record")
			continue
		}
		c, err := s.repo.GetCopy(ctx, rec.CopyID)
		if err != nil {
			log.Error(err, "failed to resolve copy of overdue record")
			continue
		}
		if len(student.GuardianEmails) == 0 {
			log.Info("no guardian emails, skipping overdue reminder")
			continue
		}

		msg, err := notify.OverdueNotice(notify.OverdueDetails{
			StudentName:   student.Name,
			StudentNumber: student.StudentNumber,
			Title:         c.Title,
			Author:        c.Author,
			BorrowDate:    rec.BorrowDate,
			DueDate:       *rec.DueDate,
		})
		if err != nil {
			log.Error(err, "failed to render overdue reminder")
			continue
		}
		if err := s.notifier.SendEmail(ctx, student.GuardianEmails, msg.Subject, msg.Plain, msg.HTML); err != nil {
			log.Error(err, "failed to send overdue reminder")
			s.notifyFailure.Add(ctx, 1)
			continue
		}
		sent++
	}

	span.SetAttributes(
		attribute.Int("overdue.count", len(overdue)),
		attribute.Int("reminders.sent", sent),
	)
	s.logger.Info("overdue sweep finished", "overdue", len(overdue), "sent", sent)
	return sent, nil
}
