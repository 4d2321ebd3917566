package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// RelayLogKey is the per-recipient replayable message log (ZSET scored by msgId).
func RelayLogKey(recipientToken string) string {
	return fmt.Sprintf("relay:log:%s", recipientToken)
}

// RelayChannel is the live pub/sub channel for a recipient token.
func RelayChannel(recipientToken string) string {
	return fmt.Sprintf("relay:live:%s", recipientToken)
}

// RelayCounterKey holds the global monotonically increasing message id.
const RelayCounterKey = "relay:msgid"
