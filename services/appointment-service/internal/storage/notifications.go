package storage

import (
	"context"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

const notificationColumns = `
	id::text, recipient_id, role, type, title, message,
	COALESCE(related_type, ''), COALESCE(related_id, ''), priority,
	read, read_at, expires_at, created_at`

func scanNotification(row scanner) (model.Notification, error) {
	var n model.Notification
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.Role, &n.Type, &n.Title, &n.Message,
		&n.RelatedType, &n.RelatedID, &n.Priority,
		&n.Read, &n.ReadAt, &n.ExpiresAt, &n.CreatedAt,
	)
	return n, translate(err)
}

func (p *Postgres) InsertNotification(ctx context.Context, n *model.Notification) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO notifications (
			id, recipient_id, role, type, title, message, related_type, related_id,
			priority, read, read_at, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, $13)
	`, n.ID, n.RecipientID, n.Role, n.Type, n.Title, n.Message, n.RelatedType, n.RelatedID,
		n.Priority, n.Read, n.ReadAt, n.ExpiresAt, n.CreatedAt)
	return translate(err)
}

func (p *Postgres) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR read = false)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, translate(rows.Err())
}

func (p *Postgres) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE recipient_id = $1 AND read = false
	`, userID).Scan(&n)
	return n, translate(err)
}

func (p *Postgres) MarkRead(ctx context.Context, userID, id string, at time.Time) (model.Notification, error) {
	if !validID(id) {
		return model.Notification{}, model.ErrNotFound
	}
	row := p.pool.QueryRow(ctx, `
		UPDATE notifications SET
			read = true,
			read_at = COALESCE(read_at, $3),
			expires_at = COALESCE(expires_at, $4)
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationColumns,
		id, userID, at, at.Add(model.NotificationReadTTL))
	return scanNotification(row)
}

func (p *Postgres) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}
