package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
)

const appointmentColumns = `
	id::text, customer_id, vehicle_id, vehicle_snapshot, service_ids,
	to_char(appointment_date, 'YYYY-MM-DD'), appointment_time, end_time, duration,
	status, status_history,
	COALESCE(technician_id, ''), COALESCE(technician_name, ''), assigned_at,
	COALESCE(group_id, ''), sequence,
	modification_count, modification_history,
	booking_fee, payment_status, cancellation_fee, COALESCE(cancel_reason, ''),
	created_at, updated_at, completed_at, cancelled_at, version`

func scanAppointment(row scanner) (model.Appointment, error) {
	var (
		a             model.Appointment
		snapshot      []byte
		history       []byte
		modifications []byte
	)
	err := row.Scan(
		&a.ID, &a.CustomerID, &a.Vehicle.ID, &snapshot, &a.ServiceIDs,
		&a.AppointmentDate, &a.AppointmentTime, &a.EndTime, &a.Duration,
		&a.Status, &history,
		&a.TechnicianID, &a.TechnicianName, &a.AssignedAt,
		&a.GroupID, &a.Sequence,
		&a.ModificationCount, &modifications,
		&a.BookingFee, &a.PaymentStatus, &a.CancellationFee, &a.CancelReason,
		&a.CreatedAt, &a.UpdatedAt, &a.CompletedAt, &a.CancelledAt, &a.Version,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	if len(snapshot) > 0 {
		a.Vehicle.Snapshot = &model.VehicleSnapshot{}
		if err := json.Unmarshal(snapshot, a.Vehicle.Snapshot); err != nil {
			return model.Appointment{}, fmt.Errorf("decode vehicle snapshot: %w", err)
		}
	}
	if err := json.Unmarshal(history, &a.StatusHistory); err != nil {
		return model.Appointment{}, fmt.Errorf("decode status history: %w", err)
	}
	if err := json.Unmarshal(modifications, &a.ModificationHistory); err != nil {
		return model.Appointment{}, fmt.Errorf("decode modification history: %w", err)
	}
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type appointmentDocs struct {
	snapshot      []byte
	history       []byte
	modifications []byte
}

func encodeAppointment(a *model.Appointment) (appointmentDocs, error) {
	var docs appointmentDocs
	var err error
	if a.Vehicle.Snapshot != nil {
		if docs.snapshot, err = json.Marshal(a.Vehicle.Snapshot); err != nil {
			return docs, err
		}
	}
	history := a.StatusHistory
	if history == nil {
		history = []model.StatusChange{}
	}
	if docs.history, err = json.Marshal(history); err != nil {
		return docs, err
	}
	mods := a.ModificationHistory
	if mods == nil {
		mods = []model.Modification{}
	}
	docs.modifications, err = json.Marshal(mods)
	return docs, err
}

func serviceIDs(a *model.Appointment) []string {
	if a.ServiceIDs == nil {
		return []string{}
	}
	return a.ServiceIDs
}

func listByDate(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, date string) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = to_date($1, 'YYYY-MM-DD')
		ORDER BY appointment_time, created_at
	`, date)
	if err != nil {
		return nil, translate(err)
	}
	list, err := collectAppointments(rows)
	return list, translate(err)
}

func insertAppointment(ctx context.Context, tx pgx.Tx, a *model.Appointment) error {
	docs, err := encodeAppointment(a)
	if err != nil {
		return err
	}
	a.Version = 1
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, customer_id, vehicle_id, vehicle_snapshot, service_ids,
			appointment_date, appointment_time, end_time, duration,
			status, status_history,
			technician_id, technician_name, assigned_at,
			group_id, sequence,
			modification_count, modification_history,
			booking_fee, payment_status, cancellation_fee, cancel_reason,
			created_at, updated_at, completed_at, cancelled_at, version
		) VALUES (
			$1, $2, $3, $4, $5,
			to_date($6, 'YYYY-MM-DD'), $7, $8, $9,
			$10, $11,
			NULLIF($12, ''), NULLIF($13, ''), $14,
			NULLIF($15, ''), $16,
			$17, $18,
			$19, $20, $21, NULLIF($22, ''),
			$23, $24, $25, $26, $27
		)
	`,
		a.ID, a.CustomerID, a.Vehicle.ID, docs.snapshot, serviceIDs(a),
		a.AppointmentDate, a.AppointmentTime, a.EndTime, a.Duration,
		a.Status, docs.history,
		a.TechnicianID, a.TechnicianName, a.AssignedAt,
		a.GroupID, a.Sequence,
		a.ModificationCount, docs.modifications,
		a.BookingFee, a.PaymentStatus, a.CancellationFee, a.CancelReason,
		a.CreatedAt, a.UpdatedAt, a.CompletedAt, a.CancelledAt, a.Version,
	)
	return translate(err)
}

// updateAppointment writes every mutable column if the stored version still
// matches, then advances a.Version.
func updateAppointment(ctx context.Context, tx pgx.Tx, a *model.Appointment) error {
	docs, err := encodeAppointment(a)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE appointments SET
			vehicle_snapshot = $3,
			service_ids = $4,
			appointment_date = to_date($5, 'YYYY-MM-DD'),
			appointment_time = $6,
			end_time = $7,
			duration = $8,
			status = $9,
			status_history = $10,
			technician_id = NULLIF($11, ''),
			technician_name = NULLIF($12, ''),
			assigned_at = $13,
			group_id = NULLIF($14, ''),
			sequence = $15,
			modification_count = $16,
			modification_history = $17,
			booking_fee = $18,
			payment_status = $19,
			cancellation_fee = $20,
			cancel_reason = NULLIF($21, ''),
			updated_at = $22,
			completed_at = $23,
			cancelled_at = $24,
			version = version + 1
		WHERE id = $1 AND version = $2
	`,
		a.ID, a.Version,
		docs.snapshot, serviceIDs(a),
		a.AppointmentDate, a.AppointmentTime, a.EndTime, a.Duration,
		a.Status, docs.history,
		a.TechnicianID, a.TechnicianName, a.AssignedAt,
		a.GroupID, a.Sequence,
		a.ModificationCount, docs.modifications,
		a.BookingFee, a.PaymentStatus, a.CancellationFee, a.CancelReason,
		a.UpdatedAt, a.CompletedAt, a.CancelledAt,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConcurrencyConflict
	}
	a.Version++
	return nil
}

// Admit takes a transaction-scoped advisory lock on the date, so concurrent
// admissions for one day run one after another while other days proceed.
func (p *Postgres) Admit(ctx context.Context, date string, fn func(ctx context.Context, tx Admission) error) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "admission:"+date); err != nil {
			return fmt.Errorf("admission lock for %s: %w", date, translate(err))
		}
		return fn(ctx, &pgAdmission{p: p, tx: tx})
	})
}

func (p *Postgres) Get(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, model.ErrNotFound
	}
	row := p.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	return a, translate(err)
}

func (p *Postgres) ListByDate(ctx context.Context, date string) ([]model.Appointment, error) {
	return listByDate(ctx, p.pool, date)
}

func (p *Postgres) ListPendingUnassigned(ctx context.Context, fromDate string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
			AND technician_id IS NULL
			AND appointment_date >= to_date($1, 'YYYY-MM-DD')
		ORDER BY appointment_date, appointment_time, created_at
		LIMIT $2
	`, fromDate, limit)
	if err != nil {
		return nil, translate(err)
	}
	list, err := collectAppointments(rows)
	return list, translate(err)
}

func (p *Postgres) Update(ctx context.Context, appt *model.Appointment, events ...outbox.Event) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateAppointment(ctx, tx, appt); err != nil {
			return err
		}
		return p.writeEvents(ctx, tx, events)
	})
}

type pgAdmission struct {
	p  *Postgres
	tx pgx.Tx
}

func (a *pgAdmission) ListByDate(ctx context.Context, date string) ([]model.Appointment, error) {
	return listByDate(ctx, a.tx, date)
}

func (a *pgAdmission) Insert(ctx context.Context, appt *model.Appointment, events ...outbox.Event) error {
	if err := insertAppointment(ctx, a.tx, appt); err != nil {
		return err
	}
	return a.p.writeEvents(ctx, a.tx, events)
}

func (a *pgAdmission) Update(ctx context.Context, appt *model.Appointment, events ...outbox.Event) error {
	if err := updateAppointment(ctx, a.tx, appt); err != nil {
		return err
	}
	return a.p.writeEvents(ctx, a.tx, events)
}

func (a *pgAdmission) LookupIdempotencyKey(ctx context.Context, customerID, key string) ([]string, bool, error) {
	var ids []string
	err := a.tx.QueryRow(ctx, `
		SELECT appointment_ids
		FROM appointment_idempotency_keys
		WHERE customer_id = $1 AND idempotency_key = $2
	`, customerID, key).Scan(&ids)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, translate(err)
	}
	return ids, true, nil
}

func (a *pgAdmission) SaveIdempotencyKey(ctx context.Context, customerID, key string, appointmentIDs []string) error {
	_, err := a.tx.Exec(ctx, `
		INSERT INTO appointment_idempotency_keys (customer_id, idempotency_key, appointment_ids, created_at)
		VALUES ($1, $2, $3, $4)
	`, customerID, key, appointmentIDs, time.Now().UTC())
	return translate(err)
}
