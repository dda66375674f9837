// Package redis provides the Redis client used to coordinate minters.
// It holds round claims, the last fetched snapshot, and short-lived counters.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the minter
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis client from a redis:// URL
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Keys

// ClaimKey is the key holding the claim on round for miner.
func ClaimKey(miner string, round uint64) string {
	return fmt.Sprintf("claim:%s:%d", strings.ToLower(miner), round)
}

// SnapshotKey is the key holding the last snapshot seen by miner.
func SnapshotKey(miner string) string {
	return fmt.Sprintf("snapshot:%s", strings.ToLower(miner))
}

// HashrateKey is the sorted set of hashrate samples for miner.
func HashrateKey(miner string) string {
	return fmt.Sprintf("hashrate:%s", strings.ToLower(miner))
}

// MintCounterKey counts confirmed mints for miner.
func MintCounterKey(miner string) string {
	return fmt.Sprintf("counter:mints:%s", strings.ToLower(miner))
}

// Round claims

// ClaimRound takes the round for owner unless another owner holds it.
// Claims expire after ttl so a crashed minter does not block the account.
func (c *Client) ClaimRound(ctx context.Context, miner string, round uint64, owner string, ttl time.Duration) (bool, error) {
	key := ClaimKey(miner, round)
	ok, err := c.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim round: %w", err)
	}
	if ok {
		return true, nil
	}

	// our own earlier claim for the same round still counts
	holder, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to read round claim: %w", err)
	}
	return holder == owner, nil
}

// Snapshot cache

// SnapshotRecord is the JSON form of a round snapshot.
type SnapshotRecord struct {
	Round        uint64    `json:"round"`
	PrevHash     string    `json:"prev_hash"`
	Threshold    string    `json:"threshold"`
	LastMintedAt uint64    `json:"last_minted_at"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// SetLastSnapshot stores the snapshot the miner is searching on
func (c *Client) SetLastSnapshot(ctx context.Context, miner string, snap *SnapshotRecord, expiration time.Duration) error {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.rdb.Set(ctx, SnapshotKey(miner), jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}

	return nil
}

// Statistics and counters

// IncrementCounter increments a counter; expiration 0 keeps it forever
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	if expiration > 0 {
		pipe.Expire(ctx, key, expiration)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// SetHashrate stores a hashrate sample and drops samples older than window
func (c *Client) SetHashrate(ctx context.Context, miner string, hashrate float64, window time.Duration) error {
	key := HashrateKey(miner)
	now := time.Now()

	member := &redis.Z{
		Score:  float64(now.Unix()),
		Member: hashrateMember(now, hashrate),
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, *member)
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now.Unix()-int64(window.Seconds())))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set hashrate: %w", err)
	}

	return nil
}

// GetAverageHashrate averages the samples inside window
func (c *Client) GetAverageHashrate(ctx context.Context, miner string, window time.Duration) (float64, error) {
	minScore := time.Now().Add(-window).Unix()

	values, err := c.rdb.ZRangeByScore(ctx, HashrateKey(miner), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", minScore),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate values: %w", err)
	}

	return averageHashrate(values), nil
}

// Samples are "<unix nanos>:<hashrate>" so equal rates stay distinct members.
func hashrateMember(at time.Time, hashrate float64) string {
	return strconv.FormatInt(at.UnixNano(), 10) + ":" + strconv.FormatFloat(hashrate, 'f', -1, 64)
}

func averageHashrate(members []string) float64 {
	var (
		total float64
		n     int
	)
	for _, m := range members {
		_, rate, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(rate, 64); err == nil {
			total += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}
