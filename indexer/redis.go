package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultStream = "mint:chain-events"

	readCount = 64
	readBlock = 5 * time.Second
	// endField marks the last message of a finite feed, such as a replay.
	endField = "end"
)

// RedisSource reads events from a Redis stream fed by the chain watcher.
// It starts from the beginning of the stream; replays are harmless since
// the event log is keyed by chain position.
type RedisSource struct {
	client  *goredis.Client
	stream  string
	lastId  string
	pending []goredis.XMessage
}

func NewRedisSource(client *goredis.Client, stream string) *RedisSource {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSource{client: client, stream: stream, lastId: "0"}
}

func (r *RedisSource) Next(ctx context.Context) (Event, error) {
	for len(r.pending) == 0 {
		streams, err := r.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{r.stream, r.lastId},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return Event{}, err
		}
		for _, stream := range streams {
			r.pending = append(r.pending, stream.Messages...)
		}
	}

	msg := r.pending[0]
	r.pending = r.pending[1:]
	r.lastId = msg.ID

	if _, ok := msg.Values[endField]; ok {
		return Event{}, io.EOF
	}
	event, err := parseEvent(msg.Values)
	if err != nil {
		return Event{}, fmt.Errorf("stream message %v: %w", msg.ID, err)
	}
	return event, nil
}

func parseEvent(values map[string]interface{}) (Event, error) {
	field := func(name string) (string, error) {
		v, ok := values[name].(string)
		if !ok {
			return "", fmt.Errorf("missing field %q", name)
		}
		return v, nil
	}

	var event Event
	var err error
	var raw string
	if raw, err = field("block"); err != nil {
		return Event{}, err
	}
	if event.Block, err = strconv.ParseUint(raw, 10, 64); err != nil {
		return Event{}, fmt.Errorf("block: %v", err)
	}
	if raw, err = field("log_index"); err != nil {
		return Event{}, err
	}
	logIndex, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return Event{}, fmt.Errorf("log_index: %v", err)
	}
	event.LogIndex = uint32(logIndex)

	if event.TxHash, err = field("tx_hash"); err != nil {
		return Event{}, err
	}
	if event.Recipient, err = field("recipient"); err != nil {
		return Event{}, err
	}
	if event.Asset, err = field("asset"); err != nil {
		return Event{}, err
	}
	if event.Amount, err = field("amount"); err != nil {
		return Event{}, err
	}
	return event, nil
}
