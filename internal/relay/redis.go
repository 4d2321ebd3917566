package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/originprotocol/wallet-linker/internal/redis"
)

// RedisRelay stores each recipient's log in a sorted set scored by message id
// and fans live messages out over pub/sub. The id counter is a single global
// INCR key, so ids are monotonic across all recipients.
type RedisRelay struct {
	redis       *redisclient.Client
	retention   time.Duration
	subscribers map[string]map[*subscriber]bool // recipientToken -> set
	pumps       map[string]bool                 // recipientToken -> pubsub goroutine live
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriber struct {
	recipientToken string
	fn             func(Message)
}

func NewRedisRelay(redisClient *redisclient.Client, retention time.Duration) *RedisRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisRelay{
		redis:       redisClient,
		retention:   retention,
		subscribers: make(map[string]map[*subscriber]bool),
		pumps:       make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, recipientToken string, env Envelope) (int64, error) {
	id, err := r.redis.Incr(ctx, redisclient.RelayCounterKey).Result()
	if err != nil {
		return 0, err
	}

	msg := Message{MsgID: id, At: time.Now().UTC(), Envelope: env}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	logKey := redisclient.RelayLogKey(recipientToken)
	pipe := r.redis.TxPipeline()
	pipe.ZAdd(ctx, logKey, goredis.Z{Score: float64(id), Member: string(data)})
	pipe.Expire(ctx, logKey, r.retention)
	pipe.Publish(ctx, redisclient.RelayChannel(recipientToken), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	log.Debug().
		Str("recipient", recipientToken).
		Int64("msgId", id).
		Str("type", string(env.Type)).
		Msg("relay message published")

	return id, nil
}

func (r *RedisRelay) FetchSince(ctx context.Context, recipientToken string, afterID int64) ([]Message, error) {
	entries, err := r.redis.ZRangeByScore(ctx, redisclient.RelayLogKey(recipientToken), &goredis.ZRangeBy{
		Min: "(" + strconv.FormatInt(afterID, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(entries))
	for _, entry := range entries {
		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			log.Error().Err(err).Str("recipient", recipientToken).Msg("corrupt relay log entry, skipping")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *RedisRelay) LatestID(ctx context.Context) (int64, error) {
	id, err := r.redis.Get(ctx, redisclient.RelayCounterKey).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return id, err
}

func (r *RedisRelay) OldestID(ctx context.Context, recipientToken string) (int64, error) {
	entries, err := r.redis.ZRangeWithScores(ctx, redisclient.RelayLogKey(recipientToken), 0, 0).Result()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return int64(entries[0].Score), nil
}

func (r *RedisRelay) Subscribe(recipientToken string, fn func(Message)) func() {
	sub := &subscriber{recipientToken: recipientToken, fn: fn}

	r.mu.Lock()
	if r.subscribers[recipientToken] == nil {
		r.subscribers[recipientToken] = make(map[*subscriber]bool)
	}
	r.subscribers[recipientToken][sub] = true
	count := len(r.subscribers[recipientToken])
	if !r.pumps[recipientToken] {
		r.pumps[recipientToken] = true
		go r.subscribeToRedis(recipientToken)
	}
	r.mu.Unlock()

	log.Debug().
		Str("recipient", recipientToken).
		Int("subscriberCount", count).
		Msg("relay subscriber added")

	return func() { r.unsubscribe(sub) }
}

func (r *RedisRelay) unsubscribe(sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.subscribers[sub.recipientToken]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, sub.recipientToken)
		}

		log.Debug().
			Str("recipient", sub.recipientToken).
			Int("subscriberCount", len(subs)).
			Msg("relay subscriber removed")
	}
}

func (r *RedisRelay) subscribeToRedis(recipientToken string) {
	channel := redisclient.RelayChannel(recipientToken)
	pubsub := r.redis.Subscribe(r.ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-r.ctx.Done():
			return

		case raw, ok := <-ch:
			if !ok {
				return
			}

			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal relay message")
				continue
			}

			r.mu.Lock()
			subs := r.subscribers[recipientToken]
			if len(subs) == 0 {
				// last subscriber left; retire this pump so a later
				// Subscribe starts a fresh one
				delete(r.pumps, recipientToken)
				r.mu.Unlock()
				return
			}
			fns := make([]func(Message), 0, len(subs))
			for sub := range subs {
				fns = append(fns, sub.fn)
			}
			r.mu.Unlock()

			for _, fn := range fns {
				fn(msg)
			}
		}
	}
}

// PruneExpired removes retained messages older than the retention window.
// The ZSET keys also carry a TTL refreshed on publish, so this mainly trims
// long-lived busy recipients.
func (r *RedisRelay) PruneExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	var pruned int64

	iter := r.redis.Scan(ctx, 0, redisclient.RelayLogKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entries, err := r.redis.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return pruned, err
		}

		var maxExpiredID int64
		for _, entry := range entries {
			var msg Message
			if err := json.Unmarshal([]byte(entry), &msg); err != nil {
				continue
			}
			if msg.At.Before(cutoff) && msg.MsgID > maxExpiredID {
				maxExpiredID = msg.MsgID
			}
		}
		if maxExpiredID == 0 {
			continue
		}

		n, err := r.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(maxExpiredID, 10)).Result()
		if err != nil {
			return pruned, err
		}
		pruned += n
	}
	if err := iter.Err(); err != nil {
		return pruned, err
	}

	return pruned, nil
}

// Close tears down all live subscriptions.
func (r *RedisRelay) Close() {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = make(map[string]map[*subscriber]bool)
	r.pumps = make(map[string]bool)
}

var _ Relay = (*RedisRelay)(nil)
