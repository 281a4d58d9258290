// Package statsreport publishes feed counters to Redis so several feedctl
// instances can be watched from one place.
//
// Redis Key Structure:
//
//	feed:stats:{instance_id} - Hash with the latest snapshot (expires after TTL)
//	feed:instances           - Hash of instance_id -> last report timestamp
package statsreport

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const instancesKey = "feed:instances"

// Snapshot is one report of a running stream.
type Snapshot struct {
	InstanceID         string    `json:"instance_id"`
	State              string    `json:"state"`
	APITransactions    int64     `json:"api_transactions"`
	EventsEmitted      int64     `json:"events_emitted"`
	PcapsEmitted       int64     `json:"pcaps_emitted"`
	CorrelationEmitted int64     `json:"correlation_emitted"`
	CorrelationBuffer  int64     `json:"correlation_buffer"`
	PollCycles         int64     `json:"poll_cycles"`
	PollFailures       int64     `json:"poll_failures"`
	ReportedAt         time.Time `json:"reported_at"`
}

// Client writes and reads snapshots.
type Client struct {
	redis      *redis.Client
	instanceID string
}

// NewClient creates a new stats client.
// instanceID should be unique per feedctl process (e.g., hostname, pod name, UUID).
func NewClient(redisURL string, instanceID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Client{redis: client, instanceID: instanceID}, nil
}

// NewClientFromRedis creates a client from an existing Redis connection.
func NewClientFromRedis(client *redis.Client, instanceID string) *Client {
	return &Client{redis: client, instanceID: instanceID}
}

// InstanceID returns the id snapshots are written under.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}

func statsKey(instanceID string) string {
	return "feed:stats:" + instanceID
}

// Write stores snap as the current snapshot of this instance.
func (c *Client) Write(ctx context.Context, snap Snapshot, ttl time.Duration) error {
	now := snap.ReportedAt
	if now.IsZero() {
		now = time.Now()
	}
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	pipe := c.redis.Pipeline()

	key := statsKey(c.instanceID)
	pipe.HSet(ctx, key, map[string]any{
		"state":               snap.State,
		"api_transactions":    snap.APITransactions,
		"events_emitted":      snap.EventsEmitted,
		"pcaps_emitted":       snap.PcapsEmitted,
		"correlation_emitted": snap.CorrelationEmitted,
		"correlation_buffer":  snap.CorrelationBuffer,
		"poll_cycles":         snap.PollCycles,
		"poll_failures":       snap.PollFailures,
		"reported_at":         nowUnix,
	})
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	pipe.HSet(ctx, instancesKey, c.instanceID, nowUnix)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}

// Read returns the latest snapshot of instanceID. ok is false when the
// instance never reported or its snapshot expired.
func (c *Client) Read(ctx context.Context, instanceID string) (snap Snapshot, ok bool, err error) {
	fields, err := c.redis.HGetAll(ctx, statsKey(instanceID)).Result()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to read stats: %w", err)
	}
	if len(fields) == 0 {
		return Snapshot{}, false, nil
	}

	num := func(name string) int64 {
		n, _ := strconv.ParseInt(fields[name], 10, 64)
		return n
	}
	return Snapshot{
		InstanceID:         instanceID,
		State:              fields["state"],
		APITransactions:    num("api_transactions"),
		EventsEmitted:      num("events_emitted"),
		PcapsEmitted:       num("pcaps_emitted"),
		CorrelationEmitted: num("correlation_emitted"),
		CorrelationBuffer:  num("correlation_buffer"),
		PollCycles:         num("poll_cycles"),
		PollFailures:       num("poll_failures"),
		ReportedAt:         time.Unix(num("reported_at"), 0),
	}, true, nil
}

// Instances returns every instance that ever reported, with its last
// report time.
func (c *Client) Instances(ctx context.Context) (map[string]time.Time, error) {
	raw, err := c.redis.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read instances: %w", err)
	}
	out := make(map[string]time.Time, len(raw))
	for id, ts := range raw {
		n, _ := strconv.ParseInt(ts, 10, 64)
		out[id] = time.Unix(n, 0)
	}
	return out, nil
}
