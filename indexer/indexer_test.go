package indexer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	recipient = "0x0123abc"
	strkToken = "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"
)

type sliceSource struct {
	events []Event
	err    error
}

func (s *sliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if len(s.events) == 0 {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event, nil
}

func testConfig(t *testing.T) Config {
	return Config{
		Token:   "dna_token",
		Pairs:   []Pair{{Recipient: recipient, Asset: strkToken}},
		DataDir: t.TempDir(),
	}
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig(t)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name     string
		modify   func(*Config)
		expected error
	}{
		{name: "no token", modify: func(c *Config) { c.Token = "" }, expected: ErrMissingToken},
		{name: "no pairs", modify: func(c *Config) { c.Pairs = nil }, expected: ErrNoPairs},
		{name: "no data dir", modify: func(c *Config) { c.DataDir = "" }, expected: ErrMissingDataDir},
		{name: "no prefix", modify: func(c *Config) { c.Pairs[0].Recipient = "0123abc" }, expected: ErrInvalidAddress},
		{name: "not hex", modify: func(c *Config) { c.Pairs[0].Asset = "0xstrk" }, expected: ErrInvalidAddress},
		{name: "too long", modify: func(c *Config) { c.Pairs[0].Asset = strkToken + "00" }, expected: ErrInvalidAddress},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig(t)
			test.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), test.expected)
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	address, err := normalizeAddress("0x000123ABC")
	require.NoError(t, err)
	assert.Equal(t, recipient, address)

	zero, err := normalizeAddress("0x0000")
	require.NoError(t, err)
	assert.Equal(t, "0x0", zero)
}

func TestSpawnRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Token = ""
	_, err := Spawn(cfg, &sliceSource{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestListenRecordsWatchedEvents(t *testing.T) {
	source := &sliceSource{events: []Event{
		{Block: 12, TxHash: "0xaa", LogIndex: 1, Recipient: "0x00123ABC", Asset: strkToken, Amount: "1000"},
		{Block: 12, TxHash: "0xbb", LogIndex: 0, Recipient: "0x999", Asset: strkToken, Amount: "5"},
		{Block: 10, TxHash: "0xcc", LogIndex: 3, Recipient: recipient, Asset: strkToken, Amount: "340282366920938463463374607431768211455"},
		// replayed
		{Block: 12, TxHash: "0xaa", LogIndex: 1, Recipient: recipient, Asset: strkToken, Amount: "1000"},
	}}

	svc, err := Spawn(testConfig(t), source, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, Listen(context.Background(), svc))

	events, err := svc.Events()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(10), events[0].Block)
	assert.Equal(t, "0xaa", events[1].TxHash)
	assert.Equal(t, recipient, events[1].Recipient)
}

func TestListenFailure(t *testing.T) {
	upstream := errors.New("stream reset")
	svc, err := Spawn(testConfig(t), &sliceSource{err: upstream}, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	assert.ErrorIs(t, Listen(context.Background(), svc), upstream)
}

func TestEventLogPersists(t *testing.T) {
	cfg := testConfig(t)
	source := &sliceSource{events: []Event{
		{Block: 1, TxHash: "0x01", Recipient: recipient, Asset: strkToken, Amount: "1"},
	}}

	svc, err := Spawn(cfg, source, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Listen(context.Background(), svc))
	require.NoError(t, svc.Close())

	reopened, err := Spawn(cfg, &sliceSource{}, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.Events()
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRedisSource(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	add := func(values map[string]interface{}) {
		require.NoError(t, client.XAdd(ctx, &goredis.XAddArgs{Stream: DefaultStream, Values: values}).Err())
	}
	add(map[string]interface{}{
		"block": "7", "tx_hash": "0xabc", "log_index": "2",
		"recipient": recipient, "asset": strkToken, "amount": "21",
	})
	add(map[string]interface{}{"block": "not a number"})
	add(map[string]interface{}{"end": "1"})

	source := NewRedisSource(client, "")

	event, err := source.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{
		Block: 7, TxHash: "0xabc", LogIndex: 2,
		Recipient: recipient, Asset: strkToken, Amount: "21",
	}, event)

	_, err = source.Next(ctx)
	require.Error(t, err)

	_, err = source.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
