// Package idempotency keeps a redis front for idempotency keys: an in-flight
// lock so concurrent duplicates wait for the first request, and a short-lived
// memo of the ledger entry a key produced. The database unique index stays
// the source of truth; when redis is down every method degrades to a no-op.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Guard struct {
	rdb       redis.UniversalClient
	lockTTL   time.Duration
	resultTTL time.Duration
	poll      time.Duration
}

func NewGuard(rdb redis.UniversalClient, lockTTL, resultTTL time.Duration) *Guard {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &Guard{rdb: rdb, lockTTL: lockTTL, resultTTL: resultTTL, poll: 20 * time.Millisecond}
}

func lockKey(scope, key string) string   { return fmt.Sprintf("idem:lock:{%s}:%s", scope, key) }
func resultKey(scope, key string) string { return fmt.Sprintf("idem:result:{%s}:%s", scope, key) }

func (g *Guard) enabled() bool { return g != nil && g.rdb != nil }

// Recall returns the result remembered for scope/key, if any.
func (g *Guard) Recall(ctx context.Context, scope, key string) (uuid.UUID, bool) {
	if !g.enabled() || key == "" {
		return uuid.Nil, false
	}
	v, err := g.rdb.Get(ctx, resultKey(scope, key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).Warn("idempotency: recall failed, falling back to database")
		}
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Remember stores the result id produced for scope/key.
func (g *Guard) Remember(ctx context.Context, scope, key string, resultID uuid.UUID) {
	if !g.enabled() || key == "" {
		return
	}
	if err := g.rdb.Set(ctx, resultKey(scope, key), resultID.String(), g.resultTTL).Err(); err != nil {
		log.WithError(err).Warn("idempotency: remember failed")
	}
}

// Lock takes the in-flight lock for scope/key, waiting up to the lock TTL
// for a concurrent holder to finish. It returns ErrConcurrencyConflict if
// the holder never finishes. The returned unlock is always safe to call.
func (g *Guard) Lock(ctx context.Context, scope, key string) (func(), error) {
	noop := func() {}
	if !g.enabled() || key == "" {
		return noop, nil
	}

	k := lockKey(scope, key)
	token := uuid.NewString()
	deadline := time.Now().Add(g.lockTTL)
	for {
		ok, err := g.rdb.SetNX(ctx, k, token, g.lockTTL).Result()
		if err != nil {
			log.WithError(err).Warn("idempotency: lock unavailable, relying on database constraint")
			return noop, nil
		}
		if ok {
			return func() {
				// detached so a cancelled request still releases
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := releaseScript.Run(rctx, g.rdb, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
					log.WithError(err).Warn("idempotency: release failed")
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return noop, fmt.Errorf("%w: key %q is still in flight", common.ErrConcurrencyConflict, key)
		}
		select {
		case <-ctx.Done():
			return noop, ctx.Err()
		case <-time.After(g.poll):
		}
	}
}
