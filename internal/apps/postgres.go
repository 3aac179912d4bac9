package apps

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hivegate.org/internal/ops"
)

// PGStore keeps apps in PostgreSQL. Scope is stored as a comma separated
// list of operation types.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// Open connects through the pgx driver with pool defaults suited to a
// read-mostly registry.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Get(ctx context.Context, name string) (App, error) {
	row := s.db.QueryRowContext(ctx,
		`select name, scope, secret_hash, created_at from apps where name=$1`, name)
	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return App{}, ErrNotFound
	}
	return app, err
}

func (s *PGStore) Put(ctx context.Context, app App) error {
	if err := app.Validate(); err != nil {
		return err
	}
	created := app.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into apps(name, scope, secret_hash, created_at, updated_at)
		values ($1, $2, $3, $4, now())
		on conflict (name) do update
		set scope = excluded.scope, secret_hash = excluded.secret_hash, updated_at = now()
	`, app.Name, app.Scope.String(), app.SecretHash, created)
	return err
}

func (s *PGStore) List(ctx context.Context) ([]App, error) {
	rows, err := s.db.QueryContext(ctx,
		`select name, scope, secret_hash, created_at from apps order by name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, app)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanApp drops scope entries that are no longer grantable.
func scanApp(row scanner) (App, error) {
	var (
		app   App
		scope string
	)
	if err := row.Scan(&app.Name, &scope, &app.SecretHash, &app.CreatedAt); err != nil {
		return App{}, err
	}
	if scope != "" {
		app.Scope = ops.FilterScope(strings.Split(scope, ","))
	}
	return app, nil
}
