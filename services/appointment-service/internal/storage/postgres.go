package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Serryudy/EAD-sub001/libs/db"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
)

// Postgres implements every store interface on one pool. Writes and their
// outbox events commit in the same transaction.
type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

var (
	_ AppointmentStore  = (*Postgres)(nil)
	_ RecordStore       = (*Postgres)(nil)
	_ NotificationStore = (*Postgres)(nil)
)

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository) *Postgres {
	return &Postgres{pool: pool, outbox: outboxRepo}
}

// inTx runs fn in a transaction and commits when it returns nil.
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return translate(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return translate(tx.Commit(ctx))
}

func (p *Postgres) writeEvents(ctx context.Context, tx pgx.Tx, events []outbox.Event) error {
	for _, evt := range events {
		if err := p.outbox.Insert(ctx, tx, evt); err != nil {
			return fmt.Errorf("insert outbox event %s: %w", evt.EventType, translate(err))
		}
	}
	return nil
}

// translate maps driver errors onto the domain errors callers inspect.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", model.ErrConcurrencyConflict, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", model.ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

// validID guards uuid columns so a malformed id reads as not found instead of
// an encode error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
