package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var _ Storage = (*Store)(nil)

// Store is the SQLite Storage backend. Locks are process-local, which is
// correct for a single Beacon process owning the database file.
type Store struct {
	db    *sql.DB
	locks *KeyedLocker
	now   func() time.Time
}

// New opens or creates a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}
	// One writer; list updates read and write inside a single transaction.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, locks: NewKeyedLocker(), now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM records
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.now().Unix(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return value, nil
}

// Put stores value at key, keeping any expiration already set.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

// Delete removes a record or list stored at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM records WHERE key = ?`,
			`DELETE FROM lists WHERE key = ?`,
			`DELETE FROM list_items WHERE key = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		return nil
	})
}

// Lock acquires the exclusive lock on key.
func (s *Store) Lock(ctx context.Context, key string) error {
	return s.locks.Lock(ctx, key)
}

// Unlock releases the lock on key.
func (s *Store) Unlock(_ context.Context, key string) error {
	s.locks.Unlock(key)
	return nil
}

// ListGet returns up to count items starting at index.
func (s *Store) ListGet(ctx context.Context, key string, index, count int) ([][]byte, error) {
	var items [][]byte
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		length, err := s.listLength(ctx, tx, key)
		if err != nil {
			return err
		}
		start, end := span(length, index, count)
		if start >= end {
			return nil
		}
		rows, err := tx.QueryContext(ctx, `
			SELECT value FROM list_items
			WHERE key = ? AND idx >= ? AND idx < ?
			ORDER BY idx ASC`, key, start, end)
		if err != nil {
			return fmt.Errorf("querying list %s: %w", key, err)
		}
		defer rows.Close()
		for rows.Next() {
			var b []byte
			if err := rows.Scan(&b); err != nil {
				return fmt.Errorf("scanning list %s: %w", key, err)
			}
			items = append(items, b)
		}
		return rows.Err()
	})
	return items, err
}

// ListPush appends items to the list at key, creating it when needed.
func (s *Store) ListPush(ctx context.Context, key string, items ...[]byte) (int, error) {
	var length int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if length, err = s.listLength(ctx, tx, key); err != nil {
			return err
		}
		for i, b := range items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO list_items (key, idx, value) VALUES (?, ?, ?)`,
				key, length+i, b,
			); err != nil {
				return fmt.Errorf("pushing to list %s: %w", key, err)
			}
		}
		length += len(items)
		return s.setListLength(ctx, tx, key, length)
	})
	if err != nil {
		return 0, err
	}
	return length, nil
}

// ListSplice replaces count items at index with items.
func (s *Store) ListSplice(ctx context.Context, key string, index, count int, items ...[]byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		length, err := s.listLength(ctx, tx, key)
		if err != nil {
			return err
		}
		start, end := span(length, index, count)

		// Same-size replacement updates rows in place.
		if end-start == len(items) {
			for i, b := range items {
				if _, err := tx.ExecContext(ctx,
					`UPDATE list_items SET value = ? WHERE key = ? AND idx = ?`,
					b, key, start+i,
				); err != nil {
					return fmt.Errorf("splicing list %s: %w", key, err)
				}
			}
			return s.setListLength(ctx, tx, key, length)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT value FROM list_items WHERE key = ? ORDER BY idx ASC`, key)
		if err != nil {
			return fmt.Errorf("reading list %s: %w", key, err)
		}
		var all [][]byte
		for rows.Next() {
			var b []byte
			if err := rows.Scan(&b); err != nil {
				rows.Close()
				return fmt.Errorf("scanning list %s: %w", key, err)
			}
			all = append(all, b)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		all = splice(all, start, end, items)
		if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE key = ?`, key); err != nil {
			return fmt.Errorf("splicing list %s: %w", key, err)
		}
		for i, b := range all {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO list_items (key, idx, value) VALUES (?, ?, ?)`, key, i, b,
			); err != nil {
				return fmt.Errorf("splicing list %s: %w", key, err)
			}
		}
		return s.setListLength(ctx, tx, key, len(all))
	})
}

// Expire sets the expiration of the record or list at key.
func (s *Store) Expire(ctx context.Context, key string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`UPDATE records SET expires_at = ? WHERE key = ?`,
			`UPDATE lists SET expires_at = ? WHERE key = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, at.Unix(), key); err != nil {
				return fmt.Errorf("expiring %s: %w", key, err)
			}
		}
		return nil
	})
}

// listLength returns the live length of a list, dropping it first if it has
// expired but not yet been pruned.
func (s *Store) listLength(ctx context.Context, tx *sql.Tx, key string) (int, error) {
	var length int
	var expiresAt sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT length, expires_at FROM lists WHERE key = ?`, key,
	).Scan(&length, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading list %s: %w", key, err)
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.now().Unix() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE key = ?`, key); err != nil {
			return 0, fmt.Errorf("dropping expired list %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE key = ?`, key); err != nil {
			return 0, fmt.Errorf("dropping expired list %s: %w", key, err)
		}
		return 0, nil
	}
	return length, nil
}

func (s *Store) setListLength(ctx context.Context, tx *sql.Tx, key string, length int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lists (key, length, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			length = excluded.length,
			updated_at = excluded.updated_at`,
		key, length, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("updating list %s: %w", key, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
