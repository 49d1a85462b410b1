package locks

import (
	"context"
	"time"
)

// Store manages exclusive, expiring leases on named resources. A lease held
// by an owner can be re-acquired or renewed by the same owner.
type Store interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resource, owner string) (bool, error)
	Holder(ctx context.Context, resource string) (string, error)
}
