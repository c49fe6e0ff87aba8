package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/notif"
)

const pqUniqueViolation = "23505"

type templateRow struct {
	Name            string         `db:"name"`
	TitleTmpl       string         `db:"title_tmpl"`
	BodyTmpl        string         `db:"body_tmpl"`
	Kind            string         `db:"kind"`
	DefaultChannels pq.StringArray `db:"default_channels"`
	RequiredVars    pq.StringArray `db:"required_vars"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (row templateRow) unpack() notif.Template {
	channels := make([]notif.ChannelType, 0, len(row.DefaultChannels))
	for _, typ := range row.DefaultChannels {
		channels = append(channels, notif.ChannelType(typ))
	}
	return notif.Template{
		Name:            row.Name,
		TitleTmpl:       row.TitleTmpl,
		BodyTmpl:        row.BodyTmpl,
		Kind:            notif.Kind(row.Kind),
		DefaultChannels: channels,
		RequiredVars:    row.RequiredVars,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func packTemplate(tmpl notif.Template) templateRow {
	channels := make(pq.StringArray, 0, len(tmpl.DefaultChannels))
	for _, typ := range tmpl.DefaultChannels {
		channels = append(channels, string(typ))
	}
	vars := tmpl.RequiredVars
	if vars == nil {
		vars = []string{}
	}
	return templateRow{
		Name:            tmpl.Name,
		TitleTmpl:       tmpl.TitleTmpl,
		BodyTmpl:        tmpl.BodyTmpl,
		Kind:            string(tmpl.Kind),
		DefaultChannels: channels,
		RequiredVars:    vars,
		CreatedAt:       tmpl.CreatedAt,
		UpdatedAt:       tmpl.UpdatedAt,
	}
}

type templateRepository struct {
	db *sqlx.DB
}

var _ notif.TemplateRepository = (*templateRepository)(nil) // interface compliance check

func NewTemplateRepository(db *sqlx.DB) *templateRepository {
	return &templateRepository{db: db}
}

func (repo templateRepository) CreateTemplate(ctx context.Context, tmpl notif.Template) (notif.Template, error) {
	row := packTemplate(tmpl)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO notif_template (name, title_tmpl, body_tmpl, kind, default_channels, required_vars, created_at, updated_at)
		VALUES (:name, :title_tmpl, :body_tmpl, :kind, :default_channels, :required_vars, :created_at, :updated_at)`,
		row,
	)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return notif.Template{}, notif.ErrTemplateExists
		}
		return notif.Template{}, errors.Wrap(err, "inserting template")
	}
	return tmpl, nil
}

func (repo templateRepository) GetTemplate(ctx context.Context, name string) (notif.Template, error) {
	var row templateRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM notif_template WHERE name = $1`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return notif.Template{}, notif.ErrTemplateNotFound
		}
		return notif.Template{}, errors.Wrap(err, "finding template")
	}
	return row.unpack(), nil
}

func (repo templateRepository) QueryAllTemplates(ctx context.Context) ([]notif.Template, error) {
	var rows []templateRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT * FROM notif_template ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "querying templates")
	}
	tmpls := make([]notif.Template, 0, len(rows))
	for _, row := range rows {
		tmpls = append(tmpls, row.unpack())
	}
	return tmpls, nil
}

func (repo templateRepository) UpdateTemplate(ctx context.Context, tmpl notif.Template) (notif.Template, error) {
	row := packTemplate(tmpl)
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE notif_template
		SET title_tmpl = :title_tmpl, body_tmpl = :body_tmpl, kind = :kind,
		    default_channels = :default_channels, required_vars = :required_vars, updated_at = :updated_at
		WHERE name = :name`,
		row,
	)
	if err != nil {
		return notif.Template{}, errors.Wrap(err, "updating template")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notif.Template{}, notif.ErrTemplateNotFound
	}
	return tmpl, nil
}

func (repo templateRepository) DeleteTemplate(ctx context.Context, name string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM notif_template WHERE name = $1`, name)
	if err != nil {
		return errors.Wrap(err, "deleting template")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notif.ErrTemplateNotFound
	}
	return nil
}
