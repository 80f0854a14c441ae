package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/breez/data-store/store"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type SQLiteContentStorage struct {
	db *sql.DB
}

func NewSQLiteContentStorage(file string) (*SQLiteContentStorage, error) {
	needMigration := false
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		needMigration = true
	}
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database %w", err)
	}
	db.SetMaxOpenConns(1)

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver %w", err)
	}

	migrationDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrationDriver, file, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate migrations %w", err)
	}
	if needMigration {
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return nil, fmt.Errorf("failed to run migrations %w", err)
		}
	}
	return &SQLiteContentStorage{db: db}, nil
}

func (s *SQLiteContentStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteContentStorage) Read(ctx context.Context, path string) (store.ReadResult, error) {
	var data []byte
	var revision int64
	err := s.db.QueryRowContext(ctx, "SELECT data, revision FROM contents WHERE path = ?", store.NormalizePath(path)).Scan(&data, &revision)
	if err == sql.ErrNoRows {
		return store.ReadResult{}, nil
	}
	if err != nil {
		return store.ReadResult{}, fmt.Errorf("failed to read %v: %w", path, err)
	}
	return store.ReadResult{Found: true, Content: data, Revision: strconv.FormatInt(revision, 10)}, nil
}

func (s *SQLiteContentStorage) Create(ctx context.Context, path string, content []byte, message string) (string, error) {
	path = store.NormalizePath(path)
	tx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx, "SELECT revision FROM contents WHERE path = ?", path).Scan(&existing)
	if err != sql.ErrNoRows {
		if err != nil {
			return "", fmt.Errorf("failed to get %v latest revision: %w", path, err)
		}
		return "", fmt.Errorf("failed to create %v: %w", path, store.ErrAlreadyExists)
	}

	newRevision, err := nextRevision(ctx, tx)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO contents (path, data, revision, message) VALUES (?, ?, ?, ?)", path, nonNil(content), newRevision, message)
	if err != nil {
		return "", fmt.Errorf("failed to insert %v: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return strconv.FormatInt(newRevision, 10), nil
}

func (s *SQLiteContentStorage) Update(ctx context.Context, path string, content []byte, message, revision string) (string, error) {
	path = store.NormalizePath(path)
	tx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := checkRevision(ctx, tx, path, revision); err != nil {
		return "", err
	}
	newRevision, err := nextRevision(ctx, tx)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, "UPDATE contents SET data = ?, revision = ?, message = ? WHERE path = ?", nonNil(content), newRevision, message, path)
	if err != nil {
		return "", fmt.Errorf("failed to update %v: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return strconv.FormatInt(newRevision, 10), nil
}

func (s *SQLiteContentStorage) Delete(ctx context.Context, path, message, revision string) error {
	path = store.NormalizePath(path)
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkRevision(ctx, tx, path, revision); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM contents WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete %v: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteContentStorage) ListChildren(ctx context.Context, dir string) ([]store.Entry, error) {
	prefix := store.NormalizePath(dir)
	if prefix != "" {
		prefix += "/"
	}
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM contents WHERE substr(path, 1, length(?)) = ?", prefix, prefix)
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

func (s *SQLiteContentStorage) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// check that the existing revision is the same as the one we expect
func checkRevision(ctx context.Context, tx *sql.Tx, path, expected string) error {
	var current int64
	err := tx.QueryRowContext(ctx, "SELECT revision FROM contents WHERE path = ?", path).Scan(&current)
	if err == sql.ErrNoRows {
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

func nextRevision(ctx context.Context, tx *sql.Tx) (int64, error) {
	var revision int64
	err := tx.QueryRowContext(ctx, "INSERT INTO store_revision (id, revision) VALUES (1, 1) ON CONFLICT (id) DO UPDATE SET revision = store_revision.revision + 1 RETURNING revision").Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("failed to update store's revision: %w", err)
	}
	return revision, nil
}

func nonNil(content []byte) []byte {
	if content == nil {
		return []byte{}
	}
	return content
}
