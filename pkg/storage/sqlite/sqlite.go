// Package sqlite provides a SQLite-backed implementation of the storage
// gateway using the pure-Go modernc.org/sqlite driver. Items are stored as
// JSON documents keyed by (resource, id).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/getrestd/restd/pkg/storage"
)

// Store implements storage.Gateway on top of a SQLite database.
type Store struct {
	db *sql.DB
}

var _ storage.Gateway = (*Store)(nil)

// Open opens (creating if necessary) a SQLite database at the given path.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS items (
		resource TEXT NOT NULL,
		id       TEXT NOT NULL,
		body     TEXT NOT NULL,
		PRIMARY KEY (resource, id)
	);`)
	if err != nil {
		return fmt.Errorf("failed to create items table: %w", err)
	}
	return nil
}

// GetAll returns every item in the resource.
func (s *Store) GetAll(ctx context.Context, resource string) ([]storage.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM items WHERE resource = ? ORDER BY id`, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]storage.Item, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item, err := decodeItem(body)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// GetByID returns a single item by id.
func (s *Store) GetByID(ctx context.Context, resource, id string) (storage.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM items WHERE resource = ? AND id = ?`, resource, id)

	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &storage.NotFoundError{Resource: resource, ID: id}
		}
		return nil, fmt.Errorf("failed to read item: %w", err)
	}
	return decodeItem(body)
}

// Create stores a new item under a freshly assigned id.
func (s *Store) Create(ctx context.Context, resource string, item storage.Item) (storage.Item, error) {
	stored := item.Clone()
	stored[storage.IDField] = uuid.NewString()

	body, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (resource, id, body) VALUES (?, ?, ?)`,
		resource, stored.ID(), string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}
	return stored, nil
}

// Replace fully replaces an existing item.
func (s *Store) Replace(ctx context.Context, resource string, item storage.Item) (storage.Item, error) {
	return s.put(ctx, resource, item)
}

// Update stores a caller-merged item.
func (s *Store) Update(ctx context.Context, resource string, item storage.Item) (storage.Item, error) {
	return s.put(ctx, resource, item)
}

func (s *Store) put(ctx context.Context, resource string, item storage.Item) (storage.Item, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET body = ? WHERE resource = ? AND id = ?`,
		string(body), resource, item.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return nil, &storage.NotFoundError{Resource: resource, ID: item.ID()}
	}
	return item.Clone(), nil
}

// DeleteByID removes an item; absent items are ignored.
func (s *Store) DeleteByID(ctx context.Context, resource, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE resource = ? AND id = ?`, resource, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// DeleteAll removes every item in the resource.
func (s *Store) DeleteAll(ctx context.Context, resource string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE resource = ?`, resource)
	if err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	return nil
}

// Seed inserts initial items into a resource. Items without an id get one
// assigned; items whose id already exists are left untouched, so seeding an
// already populated database is safe.
func (s *Store) Seed(ctx context.Context, resource string, items []storage.Item) error {
	for _, item := range items {
		stored := item.Clone()
		if stored.ID() == "" {
			stored[storage.IDField] = uuid.NewString()
		}
		body, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to encode seed item: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO items (resource, id, body) VALUES (?, ?, ?)`,
			resource, stored.ID(), string(body))
		if err != nil {
			return fmt.Errorf("failed to seed item: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func decodeItem(body string) (storage.Item, error) {
	var item storage.Item
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return nil, fmt.Errorf("failed to decode stored item: %w", err)
	}
	return item, nil
}
