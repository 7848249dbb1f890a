// Package lock provides short-lived exclusive leases keyed by string.
//
// A lease expires on its own after its TTL, so a crashed holder never blocks
// the key forever. Release only deletes the key while the caller still owns it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("lock: held by another owner")

// Release gives the lease back. Releasing an expired or stolen lease is a no-op.
type Release func(ctx context.Context) error

// Locker hands out leases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Key builds a namespaced lock key, e.g. Key("checkout", "lock", orderID).
func Key(namespace, operation, id string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, operation, id)
}
