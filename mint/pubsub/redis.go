package pubsub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRedisChannel = "mint:keysets"

type envelope struct {
	Origin string      `json:"origin"`
	Event  KeysetEvent `json:"event"`
}

// RedisBridge shares keyset events between mint processes. Events
// published through the bridge go to the local bus and to a Redis
// channel; events from other processes are relayed into the local bus.
type RedisBridge struct {
	client  *goredis.Client
	channel string
	bus     *PubSub
	origin  string
	log     zerolog.Logger

	sub  *goredis.PubSub
	wg   sync.WaitGroup
	stop context.CancelFunc
}

func NewRedisBridge(client *goredis.Client, channel string, bus *PubSub, log zerolog.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	origin := make([]byte, 16)
	rand.Read(origin)

	return &RedisBridge{
		client:  client,
		channel: channel,
		bus:     bus,
		origin:  hex.EncodeToString(origin),
		log:     log.With().Str("component", "redis-bridge").Logger(),
	}
}

// Start subscribes to the Redis channel and relays remote events until
// ctx is done or Close is called. It returns once the subscription is
// confirmed.
func (r *RedisBridge) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.sub = sub

	ctx, r.stop = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.relay(ctx, sub.Channel())
	}()
	return nil
}

func (r *RedisBridge) relay(ctx context.Context, messages <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed keyset event")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			if err := r.bus.PublishKeysetEvent(ctx, env.Event); err != nil {
				r.log.Error().Err(err).Msg("could not relay keyset event")
				continue
			}
			r.log.Debug().Str("keyset_id", env.Event.Id.String()).Msg("relayed remote keyset event")
		}
	}
}

// PublishKeysetEvent publishes the event locally and to other processes.
func (r *RedisBridge) PublishKeysetEvent(ctx context.Context, event KeysetEvent) error {
	if err := r.bus.PublishKeysetEvent(ctx, event); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisBridge) Close() error {
	if r.stop != nil {
		r.stop()
	}
	var err error
	if r.sub != nil {
		err = r.sub.Close()
	}
	r.wg.Wait()
	return err
}
