package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/notif"
)

type (
	notificationRow struct {
		ID           string    `db:"id"`
		UserID       string    `db:"user_id"`
		Kind         string    `db:"kind"`
		Title        string    `db:"title"`
		Body         string    `db:"body"`
		TemplateName string    `db:"template_name"`
		IsRead       bool      `db:"is_read"`
		ReadAt       null.Time `db:"read_at"`
		CreatedAt    time.Time `db:"created_at"`
	}

	attemptRow struct {
		ID             string      `db:"id"`
		NotificationID string      `db:"notification_id"`
		ChannelID      null.String `db:"channel_id"`
		ChannelType    string      `db:"channel_type"`
		Status         string      `db:"status"`
		Reason         string      `db:"reason"`
		AttemptedAt    time.Time   `db:"attempted_at"`
	}
)

func (row notificationRow) unpack() notif.Notification {
	return notif.Notification{
		ID:           row.ID,
		UserID:       row.UserID,
		Kind:         notif.Kind(row.Kind),
		Title:        row.Title,
		Body:         row.Body,
		TemplateName: row.TemplateName,
		IsRead:       row.IsRead,
		ReadAt:       row.ReadAt.Time,
		CreatedAt:    row.CreatedAt,
	}
}

func (row attemptRow) unpack() notif.DeliveryAttempt {
	return notif.DeliveryAttempt{
		ID:             row.ID,
		NotificationID: row.NotificationID,
		ChannelID:      row.ChannelID.String,
		ChannelType:    notif.ChannelType(row.ChannelType),
		Status:         notif.AttemptStatus(row.Status),
		Reason:         row.Reason,
		AttemptedAt:    row.AttemptedAt,
	}
}

type notificationRepository struct {
	db *sqlx.DB
}

var _ notif.NotificationRepository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, n notif.Notification) (notif.Notification, error) {
	row := notificationRow{
		ID:           n.ID,
		UserID:       n.UserID,
		Kind:         string(n.Kind),
		Title:        n.Title,
		Body:         n.Body,
		TemplateName: n.TemplateName,
		IsRead:       n.IsRead,
		ReadAt:       null.NewTime(n.ReadAt, !n.ReadAt.IsZero()),
		CreatedAt:    n.CreatedAt,
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO notification (id, user_id, kind, title, body, template_name, is_read, read_at, created_at)
		VALUES (:id, :user_id, :kind, :title, :body, :template_name, :is_read, :read_at, :created_at)`,
		row,
	)
	if err != nil {
		return notif.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return n, nil
}

func (repo notificationRepository) GetNotification(ctx context.Context, id string) (notif.Notification, error) {
	var row notificationRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM notification WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return notif.Notification{}, notif.ErrNotificationNotFound
		}
		return notif.Notification{}, errors.Wrap(err, "finding notification")
	}

	n := row.unpack()
	if n.Attempts, err = repo.QueryAttempts(ctx, id); err != nil {
		return notif.Notification{}, err
	}
	return n, nil
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]notif.Notification, error) {
	q := `SELECT * FROM notification WHERE user_id = $1`
	if unreadOnly {
		q += ` AND NOT is_read`
	}
	q += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	var rows []notificationRow
	if err := repo.db.SelectContext(ctx, &rows, q, userID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	notifs := make([]notif.Notification, 0, len(rows))
	for _, row := range rows {
		notifs = append(notifs, row.unpack())
	}
	return notifs, nil
}

func (repo notificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notification WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "counting unread notifications")
	}
	return count, nil
}

// MarkRead is idempotent; re-reading keeps the original read_at.
func (repo notificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE notification SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2`,
		id, userID, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notif.ErrNotificationNotFound
	}
	return nil
}

func (repo notificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE notification SET is_read = TRUE, read_at = $2
		WHERE user_id = $1 AND NOT is_read`,
		userID, time.Now().UTC(),
	)
	return errors.Wrap(err, "marking all notifications read")
}

func (repo notificationRepository) RecordAttempt(ctx context.Context, att notif.DeliveryAttempt) (notif.DeliveryAttempt, error) {
	row := attemptRow{
		ID:             att.ID,
		NotificationID: att.NotificationID,
		ChannelID:      null.NewString(att.ChannelID, att.ChannelID != ""),
		ChannelType:    string(att.ChannelType),
		Status:         string(att.Status),
		Reason:         att.Reason,
		AttemptedAt:    att.AttemptedAt,
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO notif_delivery_attempt (id, notification_id, channel_id, channel_type, status, reason, attempted_at)
		VALUES (:id, :notification_id, :channel_id, :channel_type, :status, :reason, :attempted_at)`,
		row,
	)
	if err != nil {
		return notif.DeliveryAttempt{}, errors.Wrap(err, "inserting delivery attempt")
	}
	return att, nil
}

func (repo notificationRepository) UpdateAttempt(ctx context.Context, id string, status notif.AttemptStatus, reason string) error {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE notif_delivery_attempt SET status = $2, reason = $3 WHERE id = $1`,
		id, string(status), reason,
	)
	if err != nil {
		return errors.Wrap(err, "updating delivery attempt")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notif.ErrNotificationNotFound
	}
	return nil
}

func (repo notificationRepository) QueryAttempts(ctx context.Context, notificationID string) ([]notif.DeliveryAttempt, error) {
	var rows []attemptRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT * FROM notif_delivery_attempt WHERE notification_id = $1 ORDER BY attempted_at, id`,
		notificationID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying delivery attempts")
	}
	attempts := make([]notif.DeliveryAttempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, row.unpack())
	}
	return attempts, nil
}
