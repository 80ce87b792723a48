package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broker is an in-memory message broker for tests and the reference
// binary. Sessions attached to the same broker see each other's
// publishes; topic matching is exact (no wildcards).
type Broker struct {
	mu       sync.RWMutex
	sessions map[*LoopbackSession]struct{}

	// Retained keeps the last payload per topic for inspection by tests.
	retained map[string][]byte
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{
		sessions: make(map[*LoopbackSession]struct{}),
		retained: make(map[string][]byte),
	}
}

// NewSession creates a session attached to this broker.
func (b *Broker) NewSession() *LoopbackSession {
	return &LoopbackSession{broker: b}
}

// Retained returns the last payload published to topic, or nil.
func (b *Broker) Retained(topic string) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	payload, ok := b.retained[topic]
	if !ok {
		return nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}

// Publish delivers payload to all subscribed sessions on the broker.
func (b *Broker) Publish(topic string, payload []byte) {
	b.mu.Lock()
	b.retained[topic] = payload
	targets := make([]*LoopbackSession, 0, len(b.sessions))
	for s := range b.sessions {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(topic, payload)
	}
}

func (b *Broker) attach(s *LoopbackSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s] = struct{}{}
}

func (b *Broker) detach(s *LoopbackSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, s)
}

// LoopbackSession is an in-memory Session implementation backed by a
// Broker.
type LoopbackSession struct {
	broker *Broker

	mu         sync.RWMutex
	config     Config
	configured bool
	handlers   map[string][]MessageHandler

	connected atomic.Bool

	// ConnectErr, when set, is returned by the next Connect call.
	// Used by tests to exercise session-open failure paths.
	ConnectErr error
}

// Configure sets the connection parameters.
func (s *LoopbackSession) Configure(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if s.connected.Load() {
		return ErrAlreadyConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
	s.configured = true
	s.handlers = make(map[string][]MessageHandler)
	return nil
}

// Connect attaches the session to the broker.
func (s *LoopbackSession) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	configured := s.configured
	connectErr := s.ConnectErr
	s.mu.RUnlock()

	if !configured {
		return ErrNotConfigured
	}
	if connectErr != nil {
		return connectErr
	}
	if !s.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	s.broker.attach(s)
	return nil
}

// Disconnect detaches the session from the broker.
func (s *LoopbackSession) Disconnect() error {
	if !s.connected.CompareAndSwap(true, false) {
		return nil
	}
	s.broker.detach(s)
	return nil
}

// Publish sends payload to topic via the broker.
func (s *LoopbackSession) Publish(topic string, payload []byte) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	s.broker.Publish(topic, payload)
	return nil
}

// Subscribe registers handler for topic.
func (s *LoopbackSession) Subscribe(topic string, handler MessageHandler) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = append(s.handlers[topic], handler)
	return nil
}

// Connected reports whether the session is attached to the broker.
func (s *LoopbackSession) Connected() bool {
	return s.connected.Load()
}

// ClientID returns the configured client ID.
func (s *LoopbackSession) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.ClientID
}

func (s *LoopbackSession) deliver(topic string, payload []byte) {
	if !s.connected.Load() {
		return
	}

	s.mu.RLock()
	handlers := append([]MessageHandler(nil), s.handlers[topic]...)
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(topic, payload)
	}
}
