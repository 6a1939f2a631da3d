package store

import (
	"context"
	"slices"
	"sync"
)

// KeyedLocker provides in-process exclusive locks keyed by string. Different
// keys never contend with each other. Waiters on one key acquire it in the
// order they called Lock.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]*lockQueue
}

type lockQueue struct {
	waiters []chan struct{}
}

// NewKeyedLocker returns an empty KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: make(map[string]*lockQueue)}
}

// Lock blocks until key is handed to the caller or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, key string) error {
	l.mu.Lock()
	q, busy := l.held[key]
	if !busy {
		l.held[key] = &lockQueue{}
		l.mu.Unlock()
		return nil
	}
	turn := make(chan struct{}, 1)
	q.waiters = append(q.waiters, turn)
	l.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-turn:
		// Handed over while giving up: pass it on.
		l.release(key)
	default:
		q.waiters = slices.DeleteFunc(q.waiters, func(c chan struct{}) bool { return c == turn })
	}
	return ctx.Err()
}

// Unlock releases key to the longest waiting caller. Unlocking a key that is
// not held is a no-op.
func (l *KeyedLocker) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release(key)
}

func (l *KeyedLocker) release(key string) {
	q, ok := l.held[key]
	if !ok {
		return
	}
	if len(q.waiters) == 0 {
		delete(l.held, key)
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	next <- struct{}{}
}

// Held reports how many keys are currently locked.
func (l *KeyedLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
