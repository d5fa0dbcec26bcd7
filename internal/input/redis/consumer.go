package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// Config configures the Redis feed consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Envelope is the wire format forwarders push onto the feed list. The
// payload is the raw vendor line, untouched.
type Envelope struct {
	ConnectionID string              `json:"connection_id"`
	System       models.SourceSystem `json:"system"`
	Payload      string              `json:"payload"`
}

// Ingester is the pipeline surface the feed drives.
type Ingester interface {
	IngestRaw(connectionID string, system models.SourceSystem, raw string) bool
}

// Consumer pops feed envelopes from a Redis list.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates a Redis consumer for list-based feed queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop pops one raw envelope from the list. A nil payload with nil error
// means the blocking pop timed out with nothing queued.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Run pops envelopes and feeds them to the ingester until the context
// is cancelled. Broken envelopes are logged and skipped.
func (c *Consumer) Run(ctx context.Context, ingester Ingester) error {
	logger.Infof("redis feed consumer started: key=%s", c.key)
	for {
		payload, err := c.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Errorf("redis pop failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if payload == nil {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Warnf("discarding malformed feed envelope: %v", err)
			continue
		}
		if env.Payload == "" {
			continue
		}
		ingester.IngestRaw(env.ConnectionID, env.System, env.Payload)
	}
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
