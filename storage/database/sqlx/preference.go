package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/notif"
)

type preferenceRow struct {
	UserID     string         `db:"user_id"`
	Kind       string         `db:"kind"`
	Enabled    bool           `db:"enabled"`
	Channels   pq.StringArray `db:"channels"`
	QuietStart null.Int       `db:"quiet_start"`
	QuietEnd   null.Int       `db:"quiet_end"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (row preferenceRow) unpack() notif.Preference {
	channels := make([]notif.ChannelType, 0, len(row.Channels))
	for _, typ := range row.Channels {
		channels = append(channels, notif.ChannelType(typ))
	}
	pref := notif.Preference{
		UserID:    row.UserID,
		Kind:      notif.Kind(row.Kind),
		Enabled:   row.Enabled,
		Channels:  channels,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.QuietStart.Valid && row.QuietEnd.Valid {
		start := notif.ClockTime(row.QuietStart.Int)
		end := notif.ClockTime(row.QuietEnd.Int)
		pref.QuietStart, pref.QuietEnd = &start, &end
	}
	return pref
}

func packPreference(pref notif.Preference) preferenceRow {
	channels := make(pq.StringArray, 0, len(pref.Channels))
	for _, typ := range pref.Channels {
		channels = append(channels, string(typ))
	}
	row := preferenceRow{
		UserID:    pref.UserID,
		Kind:      string(pref.Kind),
		Enabled:   pref.Enabled,
		Channels:  channels,
		CreatedAt: pref.CreatedAt,
		UpdatedAt: pref.UpdatedAt,
	}
	if pref.QuietStart != nil {
		row.QuietStart = null.IntFrom(int(*pref.QuietStart))
	}
	if pref.QuietEnd != nil {
		row.QuietEnd = null.IntFrom(int(*pref.QuietEnd))
	}
	return row
}

type preferenceRepository struct {
	db *sqlx.DB
}

var _ notif.PreferenceRepository = (*preferenceRepository)(nil) // interface compliance check

func NewPreferenceRepository(db *sqlx.DB) *preferenceRepository {
	return &preferenceRepository{db: db}
}

func (repo preferenceRepository) GetPreference(ctx context.Context, userID string, kind notif.Kind) (notif.Preference, error) {
	var row preferenceRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM notif_preference WHERE user_id = $1 AND kind = $2`, userID, string(kind))
	if err != nil {
		if err == sql.ErrNoRows {
			return notif.Preference{}, notif.ErrPreferenceNotFound
		}
		return notif.Preference{}, errors.Wrap(err, "finding preference")
	}
	return row.unpack(), nil
}

func (repo preferenceRepository) QueryPreferences(ctx context.Context, userID string) ([]notif.Preference, error) {
	var rows []preferenceRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT * FROM notif_preference WHERE user_id = $1 ORDER BY kind`, userID); err != nil {
		return nil, errors.Wrap(err, "querying preferences")
	}
	prefs := make([]notif.Preference, 0, len(rows))
	for _, row := range rows {
		prefs = append(prefs, row.unpack())
	}
	return prefs, nil
}

func (repo preferenceRepository) UpsertPreference(ctx context.Context, pref notif.Preference) (notif.Preference, error) {
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = pref.UpdatedAt
	}
	row := packPreference(pref)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO notif_preference (user_id, kind, enabled, channels, quiet_start, quiet_end, created_at, updated_at)
		VALUES (:user_id, :kind, :enabled, :channels, :quiet_start, :quiet_end, :created_at, :updated_at)
		ON CONFLICT (user_id, kind) DO UPDATE
		SET enabled = EXCLUDED.enabled, channels = EXCLUDED.channels,
		    quiet_start = EXCLUDED.quiet_start, quiet_end = EXCLUDED.quiet_end, updated_at = EXCLUDED.updated_at`,
		row,
	)
	if err != nil {
		return notif.Preference{}, errors.Wrap(err, "upserting preference")
	}
	return pref, nil
}

func (repo preferenceRepository) DeletePreference(ctx context.Context, userID string, kind notif.Kind) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM notif_preference WHERE user_id = $1 AND kind = $2`, userID, string(kind))
	if err != nil {
		return errors.Wrap(err, "deleting preference")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notif.ErrPreferenceNotFound
	}
	return nil
}
