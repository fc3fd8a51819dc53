package postgres

import (
	"context"
	"fmt"

	"libracheck/pkg/eventstore"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS copies (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		isbn TEXT NOT NULL DEFAULT '',
		unit_price NUMERIC(12,2) NOT NULL CHECK (unit_price >= 0),
		stock INT NOT NULL CHECK (stock >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		student_number TEXT NOT NULL UNIQUE,
		outstanding_fines NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (outstanding_fines >= 0),
		guardian_emails TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS borrowing_records (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES students(id),
		copy_id UUID NOT NULL REFERENCES copies(id),
		borrow_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ,
		return_date TIMESTAMPTZ,
		borrow_condition_tags TEXT[] NOT NULL DEFAULT '{}',
		return_condition_tags TEXT[] NOT NULL DEFAULT '{}',
		evidence_images TEXT[] NOT NULL DEFAULT '{}',
		fine_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		version INT NOT NULL DEFAULT 1
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS borrowing_records_one_open
		ON borrowing_records (student_id, copy_id) WHERE return_date IS NULL`,
	`CREATE INDEX IF NOT EXISTS borrowing_records_open_due
		ON borrowing_records (due_date) WHERE return_date IS NULL`,
	eventstore.Schema,
}

// Migrate creates the tables the service needs. Every statement is
// idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
