package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/notif"
)

type channelRow struct {
	ID        string          `db:"id"`
	Type      string          `db:"type"`
	Name      string          `db:"name"`
	Config    json.RawMessage `db:"config"`
	IsActive  bool            `db:"is_active"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (row channelRow) unpack() (notif.Channel, error) {
	var cfg notif.ChannelConfig
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return notif.Channel{}, errors.Wrap(err, "decoding channel config")
		}
	}
	return notif.Channel{
		ID:        row.ID,
		Type:      notif.ChannelType(row.Type),
		Name:      row.Name,
		Config:    cfg,
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func packChannel(ch notif.Channel) (channelRow, error) {
	cfg, err := json.Marshal(ch.Config)
	if err != nil {
		return channelRow{}, errors.Wrap(err, "encoding channel config")
	}
	return channelRow{
		ID:        ch.ID,
		Type:      string(ch.Type),
		Name:      ch.Name,
		Config:    cfg,
		IsActive:  ch.IsActive,
		CreatedAt: ch.CreatedAt,
		UpdatedAt: ch.UpdatedAt,
	}, nil
}

type channelRepository struct {
	db *sqlx.DB
}

var _ notif.ChannelRepository = (*channelRepository)(nil) // interface compliance check

func NewChannelRepository(db *sqlx.DB) *channelRepository {
	return &channelRepository{db: db}
}

func (repo channelRepository) CreateChannel(ctx context.Context, ch notif.Channel) (notif.Channel, error) {
	row, err := packChannel(ch)
	if err != nil {
		return notif.Channel{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO notif_channel (id, type, name, config, is_active, created_at, updated_at)
		VALUES (:id, :type, :name, :config, :is_active, :created_at, :updated_at)`,
		row,
	)
	if err != nil {
		return notif.Channel{}, errors.Wrap(err, "inserting channel")
	}
	return ch, nil
}

func (repo channelRepository) GetChannel(ctx context.Context, id string) (notif.Channel, error) {
	var row channelRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM notif_channel WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return notif.Channel{}, notif.ErrChannelNotFound
		}
		return notif.Channel{}, errors.Wrap(err, "finding channel")
	}
	return row.unpack()
}

func (repo channelRepository) GetActiveChannel(ctx context.Context, typ notif.ChannelType) (notif.Channel, error) {
	var row channelRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM notif_channel WHERE type = $1 AND is_active`, string(typ))
	if err != nil {
		if err == sql.ErrNoRows {
			return notif.Channel{}, notif.ErrChannelNotConfigured
		}
		return notif.Channel{}, errors.Wrap(err, "finding active channel")
	}
	return row.unpack()
}

func (repo channelRepository) QueryAllChannels(ctx context.Context) ([]notif.Channel, error) {
	var rows []channelRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT * FROM notif_channel ORDER BY type, name`); err != nil {
		return nil, errors.Wrap(err, "querying channels")
	}
	channels := make([]notif.Channel, 0, len(rows))
	for _, row := range rows {
		ch, err := row.unpack()
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func (repo channelRepository) UpdateChannel(ctx context.Context, ch notif.Channel) (notif.Channel, error) {
	row, err := packChannel(ch)
	if err != nil {
		return notif.Channel{}, err
	}
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE notif_channel
		SET name = :name, config = :config, updated_at = :updated_at
		WHERE id = :id`,
		row,
	)
	if err != nil {
		return notif.Channel{}, errors.Wrap(err, "updating channel")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notif.Channel{}, notif.ErrChannelNotFound
	}
	return ch, nil
}

// ActivateChannel deactivates the current active instance of the same type and
// activates id in one transaction. The partial unique index on (type) keeps
// concurrent activations from ever leaving two active instances.
func (repo channelRepository) ActivateChannel(ctx context.Context, id string) (notif.Channel, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return notif.Channel{}, errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var row channelRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM notif_channel WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return notif.Channel{}, notif.ErrChannelNotFound
		}
		return notif.Channel{}, errors.Wrap(err, "finding channel")
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE notif_channel SET is_active = FALSE, updated_at = $1
		WHERE type = $2 AND is_active AND id <> $3`,
		now, row.Type, id,
	)
	if err != nil {
		return notif.Channel{}, errors.Wrap(err, "deactivating current channel")
	}

	_, err = tx.ExecContext(ctx, `UPDATE notif_channel SET is_active = TRUE, updated_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return notif.Channel{}, errors.Wrap(err, "activating channel")
	}

	if err = tx.Commit(); err != nil {
		return notif.Channel{}, errors.Wrap(err, "committing activation")
	}

	row.IsActive = true
	row.UpdatedAt = now
	return row.unpack()
}

func (repo channelRepository) DeleteChannel(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM notif_channel WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting channel")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notif.ErrChannelNotFound
	}
	return nil
}
