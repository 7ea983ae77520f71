// Package sqlite implements model.Persist on a SQLite database file.
//
// The store keeps an identity map of live objects so a UUID always resolves
// to the same *model.Object, and writes every add, update and remove through
// to the objects table. On first use the identity map is hydrated from the
// table, which is how a graph survives a restart.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/jetstream/pkg/model"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("sqlite store is closed")

// Config locates the database.
type Config struct {
	DataDir string
}

// Store is a SQLite backed model.Persist.
type Store struct {
	mu       sync.RWMutex
	attached bool
	hydrated bool
	db       *sql.DB
	path     string
	registry *model.Registry
	live     map[string]*model.Object
	log      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

var _ model.Persist = (*Store)(nil)

// Open creates DataDir if needed, opens the database and ensures the schema.
// Rows are decoded with the types of r.
func Open(ctx context.Context, cfg Config, r *model.Registry, opts ...Option) (*Store, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	path := filepath.Join(dataDir, dbFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}

	s := &Store{
		attached: true,
		db:       db,
		path:     path,
		registry: r,
		live:     make(map[string]*model.Object),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Debug().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil
	}
	s.attached = false
	s.live = make(map[string]*model.Object)
	s.hydrated = false
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// ready checks the store is open and hydrated. The caller must hold s.mu for
// writing.
func (s *Store) ready(ctx context.Context) error {
	if !s.attached {
		return ErrClosed
	}
	if s.hydrated {
		return nil
	}
	if err := s.hydrateLocked(ctx); err != nil {
		return err
	}
	s.hydrated = true
	return nil
}

// AddObject inserts o.
func (s *Store) AddObject(ctx context.Context, o *model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, ok := s.live[o.UUID()]; ok {
		return types.ErrAlreadyExists.Withf("%s", o.UUID())
	}

	props, err := encodeProperties(o)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objects (uuid, type_name, is_root, properties, updated_at) VALUES (?, ?, ?, ?, ?)`,
		o.UUID(), o.TypeName(), boolToInt(o.IsScopeRoot()), props, now())
	if err != nil {
		return fmt.Errorf("inserting %s: %w", o.UUID(), err)
	}
	s.live[o.UUID()] = o
	return nil
}

// RemoveObject deletes o's row.
func (s *Store) RemoveObject(ctx context.Context, o *model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, ok := s.live[o.UUID()]; !ok {
		return types.ErrNotFound.Withf("%s", o.UUID())
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE uuid = ?`, o.UUID()); err != nil {
		return fmt.Errorf("deleting %s: %w", o.UUID(), err)
	}
	delete(s.live, o.UUID())
	return nil
}

// UpdateObject rewrites o's row from its current state. Last write wins.
func (s *Store) UpdateObject(ctx context.Context, o *model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, ok := s.live[o.UUID()]; !ok {
		return types.ErrNotFound.Withf("%s", o.UUID())
	}

	props, err := encodeProperties(o)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE objects SET type_name = ?, is_root = ?, properties = ?, updated_at = ? WHERE uuid = ?`,
		o.TypeName(), boolToInt(o.IsScopeRoot()), props, now(), o.UUID())
	if err != nil {
		return fmt.Errorf("updating %s: %w", o.UUID(), err)
	}
	s.live[o.UUID()] = o
	return nil
}

// ContainsObject reports whether id is stored.
func (s *Store) ContainsObject(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	_, ok := s.live[id]
	return ok, nil
}

// GetObject returns the live object for id.
func (s *Store) GetObject(ctx context.Context, id string) (*model.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	o, ok := s.live[id]
	if !ok {
		return nil, types.ErrNotFound.Withf("%s", id)
	}
	return o, nil
}

// GetObjects returns the live objects in the order requested.
func (s *Store) GetObjects(ctx context.Context, ids []string) ([]*model.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	out := make([]*model.Object, 0, len(ids))
	for _, id := range ids {
		o, ok := s.live[id]
		if !ok {
			return nil, types.ErrNotFound.Withf("%s", id)
		}
		out = append(out, o)
	}
	return out, nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.attached {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting objects: %w", err)
	}
	return n, nil
}

// LoadScope adopts the stored root and its graph into a new scope named
// name. It fails with types.ErrNoRootModel when no root row exists.
func (s *Store) LoadScope(ctx context.Context, name string, opts ...model.ScopeOption) (*model.Scope, error) {
	root, err := s.root(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = root.TypeName()
	}
	scope := model.NewScope(name, s, opts...)
	if err := scope.Restore(ctx, root); err != nil {
		return nil, fmt.Errorf("restoring scope %q: %w", name, err)
	}
	s.log.Info().Str("scope", name).Str("root", root.UUID()).Msg("scope loaded")
	return scope, nil
}

func (s *Store) root(ctx context.Context) (*model.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT uuid FROM objects WHERE is_root = 1 ORDER BY updated_at LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNoRootModel.Withf("%s has no root row", s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("querying root: %w", err)
	}
	o, ok := s.live[id]
	if !ok {
		return nil, types.ErrDanglingReference.Withf("root %s", id)
	}
	return o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
