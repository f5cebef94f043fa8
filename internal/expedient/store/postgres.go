package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"expedients/internal/expedient/models"
	"expedients/pkg/platform/sentinel"
	"expedients/pkg/platform/tx"
)

const defaultTable = "expedients"

// Postgres persists expedients in a single table. It works with any
// database/sql postgres driver (pgx or lib/pq), see platform/postgres.
type Postgres struct {
	db    *sql.DB
	table string
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithTable overrides the table name, mainly for test isolation.
func WithTable(name string) PostgresOption {
	return func(s *Postgres) {
		if name != "" {
			s.table = name
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	s := &Postgres{db: db, table: defaultTable}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// EnsureSchema creates the table when missing. seq keeps insertion order.
// Timestamps are unix nanoseconds; TIMESTAMPTZ would round to microseconds
// and collapse updates made within the same microsecond.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq         BIGSERIAL,
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL,
			completed   BOOLEAN NOT NULL DEFAULT FALSE,
			status      TEXT NOT NULL,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`, pq.QuoteIdentifier(s.table))
	if _, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create expedients table: %w", err)
	}
	return nil
}

// RunLocked runs fn in one transaction holding the row lock on id, so
// load-mutate-save sequences are serialised across processes sharing the
// database. Store calls made with the ctx passed to fn join the transaction.
// A missing row takes no lock and fn sees the not-found itself.
func (s *Postgres) RunLocked(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		query := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, pq.QuoteIdentifier(s.table))
		var locked string
		err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, id).Scan(&locked)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock expedient: %w", err)
		}
		return fn(ctx)
	})
}

func (s *Postgres) Save(ctx context.Context, e *models.Expedient) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, description, completed, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			completed = EXCLUDED.completed,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, pq.QuoteIdentifier(s.table))
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		e.ID, e.Title, e.Description, e.Completed, string(e.Status), e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save expedient: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id string) (*models.Expedient, error) {
	query := fmt.Sprintf(`
		SELECT id, title, description, completed, status, created_at, updated_at
		FROM %s WHERE id = $1
	`, pq.QuoteIdentifier(s.table))
	e, err := scanExpedient(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find expedient: %w", err)
	}
	return e, nil
}

func (s *Postgres) FindAll(ctx context.Context) ([]*models.Expedient, error) {
	query := fmt.Sprintf(`
		SELECT id, title, description, completed, status, created_at, updated_at
		FROM %s ORDER BY seq
	`, pq.QuoteIdentifier(s.table))
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list expedients: %w", err)
	}
	defer rows.Close()

	out := []*models.Expedient{}
	for rows.Next() {
		e, err := scanExpedient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expedient: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expedients: %w", err)
	}
	return out, nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pq.QuoteIdentifier(s.table))
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete expedient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete expedient: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpedient(row rowScanner) (*models.Expedient, error) {
	var (
		id, title, description, rawStatus string
		completed                         bool
		createdAt, updatedAt              int64
	)
	if err := row.Scan(&id, &title, &description, &completed,
		&rawStatus, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	status, err := models.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	return models.Rehydrate(id, title, description, completed, status,
		time.Unix(0, createdAt).UTC(), time.Unix(0, updatedAt).UTC())
}
