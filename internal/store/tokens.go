package store

import "sync"

// tokenMap remembers the lock token this process holds for each key.
type tokenMap struct {
	mu sync.Mutex
	m  map[string]string
}

func newTokenMap() *tokenMap { return &tokenMap{m: make(map[string]string)} }

func (t *tokenMap) set(key, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[key] = token
}

func (t *tokenMap) take(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	token, ok := t.m[key]
	delete(t.m, key)
	return token, ok
}
