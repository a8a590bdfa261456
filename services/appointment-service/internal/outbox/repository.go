package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	otelx "github.com/Serryudy/EAD-sub001/libs/otel"
)

// Tx is the slice of pgx.Tx the repository needs.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository never begins, commits or rolls back. The caller owns the
// transaction so that:
//
//   - Insert lands in the same commit as the appointment or service record
//     change it describes; a rolled back booking leaves no event behind.
//   - rows returned by FetchUnpublished stay locked (FOR UPDATE SKIP LOCKED)
//     until the caller commits, so concurrent publishers split the backlog
//     instead of sending it twice. The caller marks them published and
//     commits only after the broker accepted the batch.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

var errIncompleteEvent = errors.New("outbox event needs aggregate id and event type")

// Insert appends evt, stamping the W3C trace context of ctx so the publisher
// can continue the trace of the request that produced it.
func (r *Repository) Insert(ctx context.Context, tx Tx, evt Event) error {
	if evt.AggregateID == "" || evt.EventType == "" {
		return errIncompleteEvent
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

// Record is an outbox row as read back for publishing.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// FetchUnpublished returns up to limit pending rows in insertion order, so
// events of one appointment reach the broker in the order they were written.
func (r *Repository) FetchUnpublished(ctx context.Context, tx Tx, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.EventID, &rec.AggregateType, &rec.AggregateID, &rec.EventType,
			&rec.Payload, &rec.Traceparent, &rec.Tracestate, &rec.CreatedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	return records, nil
}

// MarkPublished flags ids as sent. Must run in the transaction that fetched
// them, after the broker write succeeded.
func (r *Repository) MarkPublished(ctx context.Context, tx Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}
