package schedule

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultClaimTTL keeps an occurrence claimed long enough for every poller to pass it.
const DefaultClaimTTL = 24 * time.Hour

// Claimer hands out each schedule occurrence once. Pollers sharing a Claimer start one run per
// occurrence between them.
type Claimer interface {
	// Claim reports whether the caller won the occurrence of key due at dueAt.
	Claim(ctx context.Context, key string, dueAt time.Time) (bool, error)
}

// MemoryClaimer shares claims between the pollers of one process.
type MemoryClaimer struct {
	mu      sync.Mutex
	claimed map[string]time.Time
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{claimed: make(map[string]time.Time)}
}

// Claim wins only occurrences later than the last one claimed for key.
func (c *MemoryClaimer) Claim(_ context.Context, key string, dueAt time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.claimed[key]; ok && !dueAt.After(last) {
		return false, nil
	}

	c.claimed[key] = dueAt

	return true, nil
}

// RedisClaimer claims occurrences with SET NX so that pollers in separate workers agree.
type RedisClaimer struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
	prefix string
}

// NewRedisClaimer records owner as the holder of the occurrences it wins.
func NewRedisClaimer(client *redis.Client, owner string, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}

	return &RedisClaimer{
		client: client,
		owner:  owner,
		ttl:    ttl,
		prefix: "automation:schedule:",
	}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string, dueAt time.Time) (bool, error) {
	won, err := c.client.SetNX(ctx, c.occurrenceKey(key, dueAt), c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim schedule %s at %s: %w", key, dueAt.UTC().Format(time.RFC3339), err)
	}

	return won, nil
}

func (c *RedisClaimer) occurrenceKey(key string, dueAt time.Time) string {
	return c.prefix + key + ":" + strconv.FormatInt(dueAt.Unix(), 10)
}
