// Package bus is the in-process communication layer that node handles bind
// to. It routes topic messages and service requests by fully resolved name;
// it never runs application callbacks itself, it only hands deliveries to
// whoever subscribed (normally a handle that enqueues them on its queue).
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fluxorio/nodelet/pkg/core"
	"github.com/google/uuid"
)

// Message is a single topic publication
type Message struct {
	ID      string
	Topic   string
	Body    any
	Headers map[string]string
}

// NewMessage creates a message with a unique ID
func NewMessage(topic string, body any) Message {
	return Message{
		ID:      uuid.New().String(),
		Topic:   topic,
		Body:    body,
		Headers: make(map[string]string),
	}
}

// Delivery receives a published message. It runs on the publisher's
// goroutine and must not block.
type Delivery func(msg Message)

// ServiceDelivery receives a service request. reply must be called exactly
// once, from any goroutine.
type ServiceDelivery func(ctx context.Context, req any, reply func(resp any, err error))

// Subscription is a registration on the bus
type Subscription interface {
	// ID returns the unique subscription id
	ID() string
	// Name returns the topic or service name
	Name() string
	// Unregister removes the registration. Safe to call more than once.
	Unregister() error
}

// Errors
var (
	ErrClosed        = &core.Error{Code: "BUS_CLOSED", Message: "bus is closed"}
	ErrNilDelivery   = &core.Error{Code: "INVALID_HANDLER", Message: "delivery cannot be nil"}
	ErrServiceExists = &core.Error{Code: "SERVICE_EXISTS", Message: "service already advertised"}
	ErrNoService     = &core.Error{Code: "NO_SERVICE", Message: "no service advertised"}
)

// Bus provides publish-subscribe topics and request-reply services.
//
// Thread-safety: All methods are safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	topics   map[string][]*subscription
	services map[string]*service
	closed   bool
	logger   core.Logger
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the bus logger
func WithLogger(l core.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates an empty bus
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:   make(map[string][]*subscription),
		services: make(map[string]*service),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = core.DefaultLogger()
	}
	return b
}

// Subscribe registers delivery for topic
func (b *Bus) Subscribe(topic string, delivery Delivery) (Subscription, error) {
	// Fail-fast: validate inputs immediately
	if err := core.ValidateName(topic); err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, ErrNilDelivery
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &subscription{
		id:       uuid.New().String(),
		topic:    topic,
		delivery: delivery,
		bus:      b,
	}
	b.topics[topic] = append(b.topics[topic], s)
	return s, nil
}

// Publish delivers body to every subscriber of topic and returns how many
// subscribers received it. Publishing to a topic nobody listens on is not
// an error.
func (b *Bus) Publish(topic string, body any) (int, error) {
	if err := core.ValidateName(topic); err != nil {
		return 0, err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, ErrClosed
	}
	subs := append([]*subscription(nil), b.topics[topic]...)
	b.mu.RUnlock()

	msg := NewMessage(topic, body)
	for _, s := range subs {
		b.safeDeliver(s, msg)
	}
	return len(subs), nil
}

// AdvertiseService registers the single server for name
func (b *Bus) AdvertiseService(name string, delivery ServiceDelivery) (Subscription, error) {
	if err := core.ValidateName(name); err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, ErrNilDelivery
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.services[name]; exists {
		return nil, ErrServiceExists.Wrap(fmt.Errorf("service %s", name))
	}

	s := &service{id: uuid.New().String(), name: name, delivery: delivery, bus: b}
	b.services[name] = s
	return s, nil
}

// Call sends req to the service advertised under name and waits for the
// reply or for ctx to be done.
func (b *Bus) Call(ctx context.Context, name string, req any) (any, error) {
	if err := core.ValidateName(name); err != nil {
		return nil, err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	s, ok := b.services[name]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNoService.Wrap(fmt.Errorf("service %s", name))
	}

	type result struct {
		resp any
		err  error
	}
	replies := make(chan result, 1)
	var once sync.Once
	reply := func(resp any, err error) {
		once.Do(func() { replies <- result{resp: resp, err: err} })
	}

	s.delivery(ctx, req, reply)

	select {
	case r := <-replies:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Topics returns the names of topics with at least one subscriber
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.topics))
	for name, subs := range b.topics {
		if len(subs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Services returns the advertised service names
func (b *Bus) Services() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.services))
	for name := range b.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubscriberCount returns the number of subscribers on topic
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close drops all registrations. After Close, all other methods fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.topics = make(map[string][]*subscription)
	b.services = make(map[string]*service)
	return nil
}

// safeDeliver isolates publishers from panicking deliveries
func (b *Bus) safeDeliver(s *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("delivery panicked", "topic", s.topic, "subscription", s.id, "panic", r)
		}
	}()
	s.delivery(msg)
}

type subscription struct {
	id       string
	topic    string
	delivery Delivery
	bus      *Bus
}

func (s *subscription) ID() string   { return s.id }
func (s *subscription) Name() string { return s.topic }

func (s *subscription) Unregister() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.topics[s.topic]
	for i, cur := range subs {
		if cur == s {
			s.bus.topics[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.bus.topics[s.topic]) == 0 {
		delete(s.bus.topics, s.topic)
	}
	return nil
}

type service struct {
	id       string
	name     string
	delivery ServiceDelivery
	bus      *Bus
}

func (s *service) ID() string   { return s.id }
func (s *service) Name() string { return s.name }

func (s *service) Unregister() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if cur, ok := s.bus.services[s.name]; ok && cur == s {
		delete(s.bus.services, s.name)
	}
	return nil
}
