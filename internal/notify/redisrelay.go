package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "guestlist:events:"

// ChannelFor names the pub/sub channel carrying one list's events.
func ChannelFor(listID string) string { return channelPrefix + listID }

// RedisRelay mirrors locally committed events to Redis pub/sub and feeds
// events committed on other nodes into the local hub.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	nodeID string
	log    zerolog.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, nodeID string, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		hub:    hub,
		nodeID: nodeID,
		log:    log.With().Str("component", "redis-relay").Logger(),
	}
}

// Deliver publishes events that originated on this node. Events received
// from other nodes are already on Redis and are skipped.
func (r *RedisRelay) Deliver(ctx context.Context, batch []Event) error {
	pipe := r.client.Pipeline()
	n := 0
	for _, ev := range batch {
		if ev.Origin != r.nodeID {
			continue
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		pipe.Publish(ctx, ChannelFor(ev.ListID), b)
		n++
	}
	if n == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to every list channel and republishes foreign events into
// the hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.log.Info().Str("pattern", channelPrefix+"*").Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("bad relay payload")
				continue
			}
			if ev.Origin == r.nodeID {
				continue
			}
			if ev.ListID == "" {
				ev.ListID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			r.hub.Publish(ev)
		}
	}
}
