package transfer

import (
	"sync"

	"github.com/google/uuid"
)

type pairKey struct {
	source string
	dest   string
}

// lockTable marks (source, destination) pairs with a transfer in flight. It
// is not reentrant and only excludes identical pairs.
type lockTable struct {
	mu   sync.Mutex
	held map[pairKey]string
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[pairKey]string)}
}

// tryAcquire returns the new owner id, or false when the pair is held.
func (l *lockTable) tryAcquire(key pairKey) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false
	}
	owner := uuid.New().String()
	l.held[key] = owner
	return owner, true
}

func (l *lockTable) release(key pairKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

func (l *lockTable) isHeld(key pairKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
