// Package lock provides Redis-backed mutual exclusion between replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var ErrNotHeld = errors.New("lock was not held or already expired")

type Manager struct {
	rs *redsync.Redsync
}

func NewManager(client redis.UniversalClient) *Manager {
	return &Manager{rs: redsync.New(goredis.NewPool(client))}
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TryLock makes a single attempt to take name for ttl. acquired is false,
// with a nil error, when another holder has it.
func (m *Manager) TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error) {
	if strings.TrimSpace(name) == "" {
		return nil, false, errors.New("lock name cannot be empty")
	}

	mutex := m.rs.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	return func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		if !ok {
			return ErrNotHeld
		}
		return nil
	}, true, nil
}

func isContention(err error) bool {
	msg := err.Error()
	return errors.Is(err, redsync.ErrFailed) ||
		strings.Contains(msg, "lock already taken") ||
		strings.Contains(msg, "failed to acquire lock")
}
