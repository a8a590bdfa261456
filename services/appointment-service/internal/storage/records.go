package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
)

const recordColumns = `
	id::text, appointment_id::text, customer_id, COALESCE(technician_id, ''), status,
	progress_percentage, timer_started, timer_start_time, timer_duration, estimated_duration_ms,
	started_at, completed_at, live_updates, created_at, updated_at, version`

func scanRecord(row scanner) (model.ServiceRecord, error) {
	var (
		r       model.ServiceRecord
		updates []byte
	)
	err := row.Scan(
		&r.ID, &r.AppointmentID, &r.CustomerID, &r.TechnicianID, &r.Status,
		&r.ProgressPercentage, &r.TimerStarted, &r.TimerStartTime, &r.TimerDuration, &r.EstimatedDurationMs,
		&r.StartedAt, &r.CompletedAt, &updates, &r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return model.ServiceRecord{}, translate(err)
	}
	if err := json.Unmarshal(updates, &r.LiveUpdates); err != nil {
		return model.ServiceRecord{}, fmt.Errorf("decode live updates: %w", err)
	}
	return r, nil
}

func encodeUpdates(r *model.ServiceRecord) ([]byte, error) {
	updates := r.LiveUpdates
	if updates == nil {
		updates = []model.LiveUpdate{}
	}
	return json.Marshal(updates)
}

func (p *Postgres) InsertRecord(ctx context.Context, rec *model.ServiceRecord, events ...outbox.Event) error {
	updates, err := encodeUpdates(rec)
	if err != nil {
		return err
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO service_records (
				id, appointment_id, customer_id, technician_id, status,
				progress_percentage, timer_started, timer_start_time, timer_duration, estimated_duration_ms,
				started_at, completed_at, live_updates, created_at, updated_at, version
			) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
		`,
			rec.ID, rec.AppointmentID, rec.CustomerID, rec.TechnicianID, rec.Status,
			rec.ProgressPercentage, rec.TimerStarted, rec.TimerStartTime, rec.TimerDuration, rec.EstimatedDurationMs,
			rec.StartedAt, rec.CompletedAt, updates, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			return translate(err)
		}
		rec.Version = 1
		return p.writeEvents(ctx, tx, events)
	})
}

func (p *Postgres) GetRecord(ctx context.Context, id string) (model.ServiceRecord, error) {
	if !validID(id) {
		return model.ServiceRecord{}, model.ErrNotFound
	}
	return scanRecord(p.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM service_records WHERE id = $1`, id))
}

func (p *Postgres) GetRecordByAppointment(ctx context.Context, appointmentID string) (model.ServiceRecord, error) {
	if !validID(appointmentID) {
		return model.ServiceRecord{}, model.ErrNotFound
	}
	return scanRecord(p.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM service_records WHERE appointment_id = $1`, appointmentID))
}

func (p *Postgres) UpdateRecord(ctx context.Context, rec *model.ServiceRecord, events ...outbox.Event) error {
	updates, err := encodeUpdates(rec)
	if err != nil {
		return err
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE service_records SET
				technician_id = NULLIF($3, ''),
				status = $4,
				progress_percentage = $5,
				timer_started = $6,
				timer_start_time = $7,
				timer_duration = $8,
				estimated_duration_ms = $9,
				started_at = $10,
				completed_at = $11,
				live_updates = $12,
				updated_at = $13,
				version = version + 1
			WHERE id = $1 AND version = $2
		`,
			rec.ID, rec.Version,
			rec.TechnicianID, rec.Status, rec.ProgressPercentage, rec.TimerStarted, rec.TimerStartTime,
			rec.TimerDuration, rec.EstimatedDurationMs, rec.StartedAt, rec.CompletedAt, updates, rec.UpdatedAt,
		)
		if err != nil {
			return translate(err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrConcurrencyConflict
		}
		rec.Version++
		return p.writeEvents(ctx, tx, events)
	})
}
