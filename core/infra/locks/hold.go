package locks

import (
	"context"
	"time"

	"github.com/cordum/jobcore/core/infra/logging"
)

const (
	component      = "locks"
	releaseTimeout = 2 * time.Second
)

// Hold runs fn while owner holds the lease on resource.
//
// Hold waits for the lease, renews it every ttl/3 and cancels fn's context if
// a renewal fails. After a loss it waits for the lease again and reruns fn.
// It returns nil once ctx is done, or fn's error when fn returns on its own
// while the lease is held. The lease is released on return.
func Hold(ctx context.Context, store Store, resource, owner string, ttl time.Duration, fn func(context.Context) error) error {
	ttl = normalizeTTL(ttl)
	interval := max(ttl/3, 10*time.Millisecond)
	for {
		if err := waitAcquire(ctx, store, resource, owner, ttl, interval); err != nil {
			return nil
		}
		logging.Info(component, "lease acquired", "resource", resource, "owner", owner)
		lost, err := runHeld(ctx, store, resource, owner, ttl, interval, fn)
		if lost {
			logging.Warn(component, "lease lost", "resource", resource, "owner", owner)
			continue
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		if _, rerr := store.Release(rctx, resource, owner); rerr != nil {
			logging.Warn(component, "lease release failed", "resource", resource, "error", rerr)
		}
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

func waitAcquire(ctx context.Context, store Store, resource, owner string, ttl, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := store.Acquire(ctx, resource, owner, ttl)
		if err == nil && ok {
			return nil
		}
		if err != nil && ctx.Err() == nil {
			logging.Warn(component, "lease acquire failed", "resource", resource, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func runHeld(ctx context.Context, store Store, resource, owner string, ttl, interval time.Duration, fn func(context.Context) error) (bool, error) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(hctx) }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return false, err
		case <-ticker.C:
			ok, err := store.Renew(ctx, resource, owner, ttl)
			if ctx.Err() != nil {
				continue
			}
			if err != nil || !ok {
				cancel()
				<-done
				return true, nil
			}
		}
	}
}
