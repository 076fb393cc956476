package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RetryItem is a failed delivery waiting for another attempt.
type RetryItem struct {
	Message  Message `json:"message"`
	Attempts int     `json:"attempts"`
}

// RetryQueue schedules failed deliveries.
type RetryQueue interface {
	Enqueue(ctx context.Context, item RetryItem, at time.Time) error
	// Claim removes and returns up to limit items due at now. Each item is
	// handed to exactly one caller.
	Claim(ctx context.Context, now time.Time, limit int) ([]RetryItem, error)
}

type redisQueue struct {
	client redis.UniversalClient
	key    string
	logger *zap.Logger
}

// NewRedisQueue stores retries in a sorted set scored by due time.
func NewRedisQueue(client redis.UniversalClient, key string, logger *zap.Logger) RetryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisQueue{client: client, key: key, logger: logger}
}

func (q *redisQueue) Enqueue(ctx context.Context, item RetryItem, at time.Time) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(at.UnixMilli()), Member: string(data)}).Err()
}

func (q *redisQueue) Claim(ctx context.Context, now time.Time, limit int) ([]RetryItem, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read retry queue: %w", err)
	}

	items := make([]RetryItem, 0, len(members))
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return items, fmt.Errorf("claim retry: %w", err)
		}
		if removed == 0 {
			continue
		}
		var item RetryItem
		if err := json.Unmarshal([]byte(member), &item); err != nil {
			q.logger.Warn("dropping undecodable retry item",
				zap.String("key", q.key),
				zap.Int("size", len(member)),
				zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

type scheduled struct {
	item RetryItem
	at   time.Time
}

type memoryQueue struct {
	mu    sync.Mutex
	items []scheduled
}

// NewMemoryQueue returns a process-local RetryQueue.
func NewMemoryQueue() RetryQueue {
	return &memoryQueue{}
}

func (q *memoryQueue) Enqueue(_ context.Context, item RetryItem, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, scheduled{item: item, at: at})
	sort.SliceStable(q.items, func(i, j int) bool { return q.items[i].at.Before(q.items[j].at) })
	return nil
}

func (q *memoryQueue) Claim(_ context.Context, now time.Time, limit int) ([]RetryItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		due  []RetryItem
		keep []scheduled
	)
	for _, s := range q.items {
		if !s.at.After(now) && len(due) < limit {
			due = append(due, s.item)
			continue
		}
		keep = append(keep, s)
	}
	q.items = keep
	return due, nil
}
