package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// ErrNotFound is returned when a container id is not in the catalog.
var ErrNotFound = stderrors.New("container not found")

// ErrInvalidContainer wraps validation failures of Save and Arena.Put.
var ErrInvalidContainer = stderrors.New("invalid container")

const schema = `
CREATE TABLE IF NOT EXISTS containers (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	paths TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS storages (
	id           TEXT PRIMARY KEY,
	container_id TEXT NOT NULL REFERENCES containers(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	backend_type TEXT NOT NULL,
	config       BLOB
);
CREATE INDEX IF NOT EXISTS idx_storages_container ON storages(container_id, position);
`

// Store persists containers and their ordered storages in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the catalog at path. ":memory:" gives a private in-memory catalog.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and the foreign key pragma in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "catalog")}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a container together with all of its storages.
func (s *Store) Save(ctx context.Context, c types.Container) error {
	if err := Validate(c); err != nil {
		return err
	}
	paths, err := json.Marshal(c.Paths)
	if err != nil {
		return fmt.Errorf("encode paths: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO containers (id, name, paths) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, paths = excluded.paths
	`, c.ID.String(), c.Name, string(paths)); err != nil {
		return fmt.Errorf("save container %s: %w", c.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM storages WHERE container_id = ?`, c.ID.String()); err != nil {
		return fmt.Errorf("clear storages of %s: %w", c.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO storages (id, container_id, position, backend_type, config)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, st := range c.Storages {
		if _, err := stmt.ExecContext(ctx, st.ID.String(), c.ID.String(), i, st.BackendType, st.Config); err != nil {
			return fmt.Errorf("save storage %s: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("Saved container", "container_id", c.ID, "name", c.Name, "storages", len(c.Storages))
	return nil
}

// Delete removes a container and its storages.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM containers WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete container %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Debug("Deleted container", "container_id", id)
	return nil
}

// DeleteByPath removes every container claiming path. With recursive set, containers
// claiming a path below it are removed too. It returns the removed ids.
func (s *Store) DeleteByPath(ctx context.Context, path string, recursive bool) ([]uuid.UUID, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	path = utils.CleanPath(path)

	var removed []uuid.UUID
	for _, c := range all {
		if !claims(c, path, recursive) {
			continue
		}
		if err := s.Delete(ctx, c.ID); err != nil {
			return removed, err
		}
		removed = append(removed, c.ID)
	}
	return removed, nil
}

func claims(c types.Container, path string, recursive bool) bool {
	for _, p := range c.Paths {
		p = utils.CleanPath(p)
		if p == path || (recursive && utils.HasPathPrefix(p, path)) {
			return true
		}
	}
	return false
}

// Get loads one container.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (types.Container, error) {
	var name, paths string
	err := s.db.QueryRowContext(ctx, `SELECT name, paths FROM containers WHERE id = ?`, id.String()).Scan(&name, &paths)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.Container{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.Container{}, fmt.Errorf("get container %s: %w", id, err)
	}

	c := types.Container{ID: id, Name: name}
	if err := json.Unmarshal([]byte(paths), &c.Paths); err != nil {
		return types.Container{}, fmt.Errorf("decode paths of %s: %w", id, err)
	}
	if c.Storages, err = s.storagesOf(ctx, id); err != nil {
		return types.Container{}, err
	}
	return c, nil
}

// List loads every container ordered by name.
func (s *Store) List(ctx context.Context) ([]types.Container, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM containers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			_ = rows.Close()
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("corrupt container id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	out := make([]types.Container, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) storagesOf(ctx context.Context, id uuid.UUID) ([]types.Storage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, backend_type, config FROM storages
		WHERE container_id = ? ORDER BY position
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("list storages of %s: %w", id, err)
	}
	defer rows.Close()

	var out []types.Storage
	for rows.Next() {
		var raw, backendType string
		var config []byte
		if err := rows.Scan(&raw, &backendType, &config); err != nil {
			return nil, err
		}
		sid, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt storage id %q: %w", raw, err)
		}
		out = append(out, types.Storage{ID: sid, BackendType: backendType, Config: config})
	}
	return out, rows.Err()
}

// Validate checks the invariants every stored container must hold.
func Validate(c types.Container) error {
	if c.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidContainer)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidContainer, c.ID)
	}
	if len(c.Paths) == 0 {
		return fmt.Errorf("%w: %s claims no path", ErrInvalidContainer, c.Name)
	}
	for _, p := range c.Paths {
		if err := utils.ValidatePath(p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidContainer, c.Name, err)
		}
	}
	seen := make(map[uuid.UUID]bool, len(c.Storages))
	for _, st := range c.Storages {
		if st.BackendType == "" {
			return fmt.Errorf("%w: %s: storage %s has no backend type", ErrInvalidContainer, c.Name, st.ID)
		}
		if seen[st.ID] {
			return fmt.Errorf("%w: %s: storage %s listed twice", ErrInvalidContainer, c.Name, st.ID)
		}
		seen[st.ID] = true
	}
	return nil
}
