package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Schema creates the events table. It is safe to apply more than once.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
);
`

// Event represents a domain event with full metadata
type Event struct {
	ID            int64                  `json:"id" db:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type" db:"aggregate_type"`
	EventType     string                 `json:"event_type" db:"event_type"`
	EventData     json.RawMessage        `json:"event_data" db:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"-"`
	Version       int                    `json:"version" db:"version"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

type eventRow struct {
	Event
	MetadataJSON []byte `db:"metadata"`
}

// EventStore provides ACID guarantees for event sourcing
type EventStore struct {
	db     *sqlx.DB
	tx     *sqlx.Tx
	tracer trace.Tracer
}

// NewEventStore creates a new event store over a connection pool.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("libracheck/eventstore"),
	}
}

// WithTx returns a store that writes through tx instead of opening its own
// transaction, so events commit together with the caller's other writes.
func (es *EventStore) WithTx(tx *sqlx.Tx) *EventStore {
	return &EventStore{db: es.db, tx: tx, tracer: es.tracer}
}

func (es *EventStore) ext() sqlx.ExtContext {
	if es.tx != nil {
		return es.tx
	}
	return es.db
}

// AppendEvents atomically appends events with optimistic concurrency control
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
			attribute.Bool("outer.tx", es.tx != nil),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	if es.tx != nil {
		return es.append(ctx, span, es.tx, aggregateID, aggregateType, expectedVersion, events)
	}

	// Begin transaction with serializable isolation
	tx, err := es.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := es.append(ctx, span, tx, aggregateID, aggregateType, expectedVersion, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

func (es *EventStore) append(ctx context.Context, span trace.Span, tx *sqlx.Tx, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	currentVersion, err := es.WithTx(tx).GetCurrentVersion(ctx, aggregateID)
	if err != nil {
		return err
	}

	// Optimistic concurrency check
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, event := range events {
		version := expectedVersion + i + 1
		var metadataJSON []byte
		if len(event.Metadata) > 0 {
			metadataJSON, _ = json.Marshal(event.Metadata)
		}

		var eventID int64
		err = stmt.QueryRowxContext(
			ctx,
			aggregateID,
			aggregateType,
			event.EventType,
			[]byte(event.EventData),
			metadataJSON,
			version,
			time.Now().UTC(),
		).Scan(&eventID)
		if err != nil {
			// Check for unique constraint violation (race condition)
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}
	return nil
}

// LoadEvents retrieves all events for an aggregate with optional version range
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = $1
		AND version >= $2
	`

	args := []interface{}{aggregateID, fromVersion}

	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}

	query += " ORDER BY version ASC"

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, es.ext(), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		event := row.Event
		if len(row.MetadataJSON) > 0 {
			if err := json.Unmarshal(row.MetadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version for an aggregate. AppendEvents
// checks it against the expected version before inserting.
func (es *EventStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
		),
	)
	defer span.End()

	var version int
	err := sqlx.GetContext(ctx, es.ext(), &version, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("query version: %w", err)
	}

	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}
