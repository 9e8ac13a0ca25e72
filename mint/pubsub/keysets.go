package pubsub

import (
	"context"
	"encoding/json"

	"github.com/nutsnode/mintcore/cashu"
)

// KeysetEvent announces a change to the stored state of a keyset.
type KeysetEvent struct {
	Id     cashu.KeysetId `json:"id"`
	Active bool           `json:"active"`
}

func (b *PubSub) PublishKeysetEvent(_ context.Context, event KeysetEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	b.Publish(KeysetsTopic, payload)
	return nil
}

func DecodeKeysetEvent(msg *Message) (KeysetEvent, error) {
	var event KeysetEvent
	if err := json.Unmarshal(msg.Payload(), &event); err != nil {
		return KeysetEvent{}, err
	}
	return event, nil
}
