package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrFileLocked means another worker is already ingesting the same file.
var ErrFileLocked = errors.New("file is already being ingested")

// FileLocker enforces at most one concurrent ingestion per distinct file
// name. Ingestion of different files needs no coordination beyond the store's
// per-row uniqueness guarantee.
type FileLocker interface {
	// Acquire takes the lock for fileName or returns ErrFileLocked. The
	// returned release func is safe to call exactly once.
	Acquire(ctx context.Context, fileName string) (release func(), err error)
}

const lockKeyPrefix = "eventlake:ingest:lock:"

// releaseScript deletes the lock only if this worker still holds it, so an
// expired lock taken over by another worker is never released from here.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisFileLocker coordinates workers across processes with a SET NX lease.
// The TTL guards against a crashed worker holding a file forever.
type RedisFileLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisFileLocker(client redis.UniversalClient, ttl time.Duration) *RedisFileLocker {
	return &RedisFileLocker{client: client, ttl: ttl}
}

func (l *RedisFileLocker) Acquire(ctx context.Context, fileName string) (func(), error) {
	key := lockKeyPrefix + fileName
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", fileName, err)
	}
	if !ok {
		return nil, ErrFileLocked
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.client, []string{key}, token)
	}
	return release, nil
}

// MemoryFileLocker is the in-process equivalent for single-node deployments
// and tests.
type MemoryFileLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryFileLocker() *MemoryFileLocker {
	return &MemoryFileLocker{held: make(map[string]struct{})}
}

func (l *MemoryFileLocker) Acquire(_ context.Context, fileName string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[fileName]; ok {
		return nil, ErrFileLocked
	}
	l.held[fileName] = struct{}{}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, fileName)
	}
	return release, nil
}
