package pubsub

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

const (
	// KeysetsTopic carries KeysetEvent payloads whenever a keyset is
	// added, activated or deactivated.
	KeysetsTopic = "keysets"

	subscriberBuffer = 16
)

type Message struct {
	topic   string
	payload []byte
}

func NewMessage(msg []byte, topic string) *Message {
	return &Message{
		topic:   topic,
		payload: msg,
	}
}

func (m *Message) Topic() string {
	return m.topic
}

func (m *Message) Payload() []byte {
	return m.payload
}

type Subscribers map[string]*Subscriber

type PubSub struct {
	topics map[string]Subscribers
	mu     sync.RWMutex
}

func NewPubSub() *PubSub {
	return &PubSub{
		topics: make(map[string]Subscribers),
	}
}

func (b *PubSub) Subscribe(topic string) *Subscriber {
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(Subscribers)
	}
	s := NewSubscriber()
	b.topics[topic][s.id] = s
	b.mu.Unlock()

	return s
}

func (b *PubSub) Unsubscribe(s *Subscriber, topic string) {
	b.mu.Lock()
	delete(b.topics[topic], s.id)
	b.mu.Unlock()
}

// Publish delivers msg to every active subscriber of topic without
// blocking the publisher on slow readers.
func (b *PubSub) Publish(topic string, msg []byte) {
	b.mu.RLock()
	subscribers := make([]*Subscriber, 0, len(b.topics[topic]))
	for _, s := range b.topics[topic] {
		subscribers = append(subscribers, s)
	}
	b.mu.RUnlock()

	for _, s := range subscribers {
		m := NewMessage(msg, topic)
		go s.signal(m)
	}
}

type Subscriber struct {
	id       string
	messages chan *Message
	done     chan struct{}
	active   bool
	once     sync.Once
	mu       sync.RWMutex
}

func NewSubscriber() *Subscriber {
	id := make([]byte, 32)
	rand.Read(id)

	return &Subscriber{
		id:       hex.EncodeToString(id),
		messages: make(chan *Message, subscriberBuffer),
		done:     make(chan struct{}),
		active:   true,
	}
}

func (s *Subscriber) signal(msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return
	}
	select {
	case s.messages <- msg:
	case <-s.done:
	}
}

func (s *Subscriber) GetMessages() <-chan *Message {
	return s.messages
}

// Close stops delivery and closes the messages channel. Safe to call
// more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		// release senders blocked on a full channel before taking the lock
		close(s.done)
		s.mu.Lock()
		s.active = false
		close(s.messages)
		s.mu.Unlock()
	})
}
