package incidents

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Counter is a durable, monotonically increasing sequence.
type Counter interface {
	Next(ctx context.Context) (int64, error)
}

// StoreCounter keeps the sequence in the incident store itself.
type StoreCounter struct {
	Store Store
	Name  string
}

func (c *StoreCounter) Next(ctx context.Context) (int64, error) {
	return c.Store.NextSequence(ctx, c.Name)
}

// RedisConfig configures the Redis-backed id counter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisCounter keeps the sequence in a Redis key advanced with INCR.
type RedisCounter struct {
	client *redis.Client
	key    string
}

func NewRedisCounter(ctx context.Context, cfg RedisConfig) (*RedisCounter, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.Key) == "" {
		cfg.Key = "socwatch:incident_seq"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, &PersistenceError{Op: "ping redis counter", Err: err}
	}
	return &RedisCounter{client: client, key: cfg.Key}, nil
}

// Next fails, rather than resetting, when the key holds a non-integer value.
func (c *RedisCounter) Next(ctx context.Context) (int64, error) {
	n, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, &PersistenceError{Op: "incr " + c.key, Err: err}
	}
	return n, nil
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// Allocator hands out incident ids of the form PREFIX-YEAR-NNNN. Allocations
// are serialized: at most one counter round trip is in flight at a time.
type Allocator struct {
	mu      sync.Mutex
	counter Counter
	prefix  string
	Now     func() time.Time
}

func NewAllocator(counter Counter, prefix string) *Allocator {
	if prefix == "" {
		prefix = "INC"
	}
	return &Allocator{counter: counter, prefix: prefix}
}

func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq, err := a.counter.Next(ctx)
	if err != nil {
		return "", persistErr("allocate id", err)
	}
	if seq <= 0 {
		return "", &PersistenceError{Op: "allocate id", Err: fmt.Errorf("counter returned %d", seq)}
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	return fmt.Sprintf("%s-%d-%04d", a.prefix, now.UTC().Year(), seq), nil
}

// SequenceOf extracts the numeric sequence from an allocated id.
func SequenceOf(id string) (int64, bool) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 || i == len(id)-1 {
		return 0, false
	}
	digits := id[i+1:]
	if strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
