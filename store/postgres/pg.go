package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"

	"github.com/breez/data-store/store"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type PgContentStorage struct {
	db *pgxpool.Pool
}

func NewPGContentStorage(databaseURL string) (*PgContentStorage, error) {

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database %w", err)
	}
	defer db.Close()
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver %w", err)
	}

	migrationDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source %w", err)
	}

	m, err := migrate.NewWithInstance(
		"iofs", migrationDriver,
		"data-store", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate migrations %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("failed to run migrations %w", err)
	}

	pgxPool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New(%v): %w", databaseURL, err)
	}
	return &PgContentStorage{db: pgxPool}, nil
}

func (s *PgContentStorage) Close() error {
	s.db.Close()
	return nil
}

func (s *PgContentStorage) Read(ctx context.Context, path string) (store.ReadResult, error) {
	var data []byte
	var revision int64
	err := s.db.QueryRow(ctx, "SELECT data, revision FROM contents WHERE path = $1", store.NormalizePath(path)).Scan(&data, &revision)
	if err == pgx.ErrNoRows {
		return store.ReadResult{}, nil
	}
	if err != nil {
		return store.ReadResult{}, fmt.Errorf("failed to read %v: %w", path, err)
	}
	return store.ReadResult{Found: true, Content: data, Revision: strconv.FormatInt(revision, 10)}, nil
}

func (s *PgContentStorage) Create(ctx context.Context, path string, content []byte, message string) (string, error) {
	path = store.NormalizePath(path)
	tx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(context.Background())

	var existing int64
	err = tx.QueryRow(ctx, "SELECT revision FROM contents WHERE path = $1", path).Scan(&existing)
	if err != pgx.ErrNoRows {
		if err != nil {
			return "", fmt.Errorf("failed to get %v latest revision: %w", path, err)
		}
		return "", fmt.Errorf("failed to create %v: %w", path, store.ErrAlreadyExists)
	}

	newRevision, err := nextRevision(ctx, tx)
	if err != nil {
		return "", err
	}
	_, err = tx.Exec(ctx, "INSERT INTO contents (path, data, revision, message) VALUES ($1, $2, $3, $4)", path, nonNil(content), newRevision, message)
	if err != nil {
		return "", fmt.Errorf("failed to insert %v: %w", path, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return strconv.FormatInt(newRevision, 10), nil
}

func (s *PgContentStorage) Update(ctx context.Context, path string, content []byte, message, revision string) (string, error) {
	path = store.NormalizePath(path)
	tx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(context.Background())

	if err := checkRevision(ctx, tx, path, revision); err != nil {
		return "", err
	}
	newRevision, err := nextRevision(ctx, tx)
	if err != nil {
		return "", err
	}
	_, err = tx.Exec(ctx, "UPDATE contents SET data = $1, revision = $2, message = $3 WHERE path = $4", nonNil(content), newRevision, message, path)
	if err != nil {
		return "", fmt.Errorf("failed to update %v: %w", path, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return strconv.FormatInt(newRevision, 10), nil
}

func (s *PgContentStorage) Delete(ctx context.Context, path, message, revision string) error {
	path = store.NormalizePath(path)
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	if err := checkRevision(ctx, tx, path, revision); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM contents WHERE path = $1", path); err != nil {
		return fmt.Errorf("failed to delete %v: %w", path, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PgContentStorage) ListChildren(ctx context.Context, dir string) ([]store.Entry, error) {
	prefix := store.NormalizePath(dir)
	if prefix != "" {
		prefix += "/"
	}
	rows, err := s.db.Query(ctx, "SELECT path FROM contents WHERE left(path, length($1)) = $1", prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate paths: %w", err)
	}
	return store.ChildEntries(dir, paths), nil
}

func (s *PgContentStorage) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel: pgx.Serializable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// check that the existing revision is the same as the one we expect
func checkRevision(ctx context.Context, tx pgx.Tx, path, expected string) error {
	var current int64
	err := tx.QueryRow(ctx, "SELECT revision FROM contents WHERE path = $1", path).Scan(&current)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("failed to write %v: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %v latest revision: %w", path, err)
	}
	if strconv.FormatInt(current, 10) != expected {
		return &store.ConflictError{Path: path, Expected: expected, Current: strconv.FormatInt(current, 10)}
	}
	return nil
}

func nextRevision(ctx context.Context, tx pgx.Tx) (int64, error) {
	var revision int64
	err := tx.QueryRow(ctx, "INSERT INTO store_revision (id, revision) VALUES (1, 1) ON CONFLICT (id) DO UPDATE SET revision = store_revision.revision + 1 RETURNING revision").Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("failed to set store's latest revision: %w", err)
	}
	return revision, nil
}

func nonNil(content []byte) []byte {
	if content == nil {
		return []byte{}
	}
	return content
}
