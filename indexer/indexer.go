package indexer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const eventsBucket = "events"

// Event is a payment observed on chain. The mint's settlement logic reads
// recorded events to decide whether a quote was paid.
type Event struct {
	Block     uint64 `json:"block"`
	TxHash    string `json:"tx_hash"`
	LogIndex  uint32 `json:"log_index"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	// Amount is a decimal string, on-chain amounts exceed 64 bits.
	Amount string `json:"amount"`
}

// Source yields upstream events in chain order. It returns io.EOF when
// the stream ends.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// Service records the events of the watched pairs in a bbolt event log.
type Service struct {
	db      *bolt.DB
	source  Source
	watched map[Pair]struct{}
	log     zerolog.Logger
}

// Spawn validates cfg and opens the event log under cfg.DataDir.
func Spawn(cfg Config, source Source, log zerolog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("error creating indexer data dir: %v", err)
	}

	db, err := bolt.Open(filepath.Join(cfg.DataDir, "indexer.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening indexer event log: %v", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventsBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	watched := make(map[Pair]struct{}, len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		watched[canonicalPair(pair)] = struct{}{}
	}

	log.Info().Int("pairs", len(watched)).Msg("indexer started")
	return &Service{db: db, source: source, watched: watched, log: log}, nil
}

// Next returns the next event of a watched pair once it is recorded.
// Events of other pairs are skipped.
func (s *Service) Next(ctx context.Context) (Event, error) {
	for {
		event, err := s.source.Next(ctx)
		if err != nil {
			return Event{}, err
		}
		if _, ok := s.watched[canonicalPair(Pair{Recipient: event.Recipient, Asset: event.Asset})]; !ok {
			indexedEvents.WithLabelValues("skipped").Inc()
			continue
		}
		if err := s.record(event); err != nil {
			return Event{}, err
		}
		indexedEvents.WithLabelValues("recorded").Inc()
		s.log.Debug().
			Uint64("block", event.Block).
			Str("tx_hash", event.TxHash).
			Str("recipient", event.Recipient).
			Msg("payment recorded")
		return event, nil
	}
}

// record stores event under its chain position, so a replayed event
// overwrites itself.
func (s *Service) record(event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(eventsBucket)).Put(eventKey(event), value)
	})
}

// Events returns the recorded events in chain order.
func (s *Service) Events() ([]Event, error) {
	events := []Event{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(eventsBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var event Event
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("error reading event %x: %v", k, err)
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

// Listen drains svc until the upstream stream ends or fails. Recording
// happens in Next, so nothing else is done with the events.
func Listen(ctx context.Context, svc *Service) error {
	for {
		if _, err := svc.Next(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("indexer: %w", err)
		}
	}
}

func eventKey(event Event) []byte {
	key := make([]byte, 12, 12+len(event.TxHash))
	binary.BigEndian.PutUint64(key[:8], event.Block)
	binary.BigEndian.PutUint32(key[8:12], event.LogIndex)
	return append(key, event.TxHash...)
}

func canonicalPair(pair Pair) Pair {
	recipient, err := normalizeAddress(pair.Recipient)
	if err != nil {
		recipient = pair.Recipient
	}
	asset, err := normalizeAddress(pair.Asset)
	if err != nil {
		asset = pair.Asset
	}
	return Pair{Recipient: recipient, Asset: asset}
}
