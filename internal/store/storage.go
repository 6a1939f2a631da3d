// Package store provides the key/value and list storage used by Beacon.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("not found")

// Storage is the persistence contract the submission pipeline relies on.
// Records and lists share one key space. List indexes may be negative to
// count from the end (-1 is the last item).
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Lock blocks until the exclusive lock on key is held or ctx is done.
	Lock(ctx context.Context, key string) error
	Unlock(ctx context.Context, key string) error

	ListGet(ctx context.Context, key string, index, count int) ([][]byte, error)
	// ListPush appends items and returns the new list length.
	ListPush(ctx context.Context, key string, items ...[]byte) (int, error)
	// ListSplice removes count items starting at index and inserts items in
	// their place.
	ListSplice(ctx context.Context, key string, index, count int, items ...[]byte) error

	// Expire schedules key for deletion at the given time.
	Expire(ctx context.Context, key string, at time.Time) error

	Close() error
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Storage, key string, v any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Storage, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Put(ctx, key, b)
}

// ListGetJSON reads count items from index and decodes each into a T.
func ListGetJSON[T any](ctx context.Context, s Storage, key string, index, count int) ([]T, error) {
	raw, err := s.ListGet(ctx, key, index, count)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for i, b := range raw {
		var item T
		if err := json.Unmarshal(b, &item); err != nil {
			return nil, fmt.Errorf("decoding %s[%d]: %w", key, i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// ListPushJSON encodes item and appends it to the list at key.
func ListPushJSON(ctx context.Context, s Storage, key string, item any) (int, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("encoding %s item: %w", key, err)
	}
	return s.ListPush(ctx, key, b)
}

// ListSpliceJSON encodes items and splices them into the list at key.
func ListSpliceJSON(ctx context.Context, s Storage, key string, index, count int, items ...any) error {
	raw := make([][]byte, 0, len(items))
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encoding %s item: %w", key, err)
		}
		raw = append(raw, b)
	}
	return s.ListSplice(ctx, key, index, count, raw...)
}

// span resolves a possibly negative index and a count against a list of the
// given length, returning a half-open [start, end) range clamped to the list.
func span(length, index, count int) (int, int) {
	if index < 0 {
		index += length
	}
	start := max(index, 0)
	start = min(start, length)
	if count < 0 {
		return start, length
	}
	end := min(start+count, length)
	return start, end
}

// splice returns items with [start, end) replaced by repl.
func splice(items [][]byte, start, end int, repl [][]byte) [][]byte {
	out := make([][]byte, 0, len(items)-(end-start)+len(repl))
	out = append(out, items[:start]...)
	out = append(out, repl...)
	return append(out, items[end:]...)
}
