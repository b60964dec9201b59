package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLua deletes the lease key only if it still holds our token, so a
// process whose lease already expired cannot release its successor's.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the lease only while we hold it.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

var (
	releaseScript = redis.NewScript(releaseLua)
	renewScript   = redis.NewScript(renewLua)
)

// Lease is a Redis-backed single-writer lock. Exactly one engine process
// may hold it; the holder renews it before the TTL runs out.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// AcquireLease takes the named lease for ttl. It returns ErrLeaseHeld if
// another process holds it.
func AcquireLease(ctx context.Context, rdb *redis.Client, name string, ttl time.Duration) (*Lease, error) {
	l := &Lease{
		rdb:   rdb,
		key:   "lease:" + name,
		token: uuid.New().String(),
		ttl:   ttl,
	}
	ok, err := rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return l, nil
}

// Token identifies this holder.
func (l *Lease) Token() string { return l.token }

// Renew pushes the expiry out by the lease TTL. It returns ErrLeaseHeld if
// the lease was lost.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// Keep renews the lease every ttl/3 until ctx is done, then releases it.
// It returns ErrLeaseHeld as soon as the lease is lost.
func (l *Lease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Release()
			return nil
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				return err
			}
		}
	}
}

// Release drops the lease if still held. Safe to call more than once.
func (l *Lease) Release() {
	// Background context so release succeeds after the caller's is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
