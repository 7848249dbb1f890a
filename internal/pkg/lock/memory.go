package lock

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	token   uint64
	expires time.Time
}

// MemoryLocker is a process-local Locker for single-instance deployments
// and tests.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

var _ Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]lease), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.leases[key]; ok && now.Before(current.expires) {
		return nil, ErrHeld
	}

	l.next++
	token := l.next
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.leases[key]; ok && current.token == token {
			delete(l.leases, key)
		}
		return nil
	}, nil
}
