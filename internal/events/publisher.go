package events

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"realtime-core/internal/database"
)

// Publisher delivers a serialized message to the current subscribers of a channel.
// Delivery is at-most-once and best-effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Subscription is a live feed of raw envelopes for a set of channels
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Subscriber opens subscriptions on channels
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// ErrTransportUnavailable is returned when the transport cannot accept subscriptions
var ErrTransportUnavailable = errors.New("event transport unavailable")

// RedisPublisher adapts the degraded-mode Redis client to Publisher and Subscriber
type RedisPublisher struct {
	Client *database.RedisClient
}

// Publish publishes message to Redis
func (a *RedisPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	return a.Client.SafePublish(ctx, channel, message)
}

// Subscribe subscribes to Redis channels
func (a *RedisPublisher) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := a.Client.SafeSubscribe(ctx, channels...)
	if pubsub == nil {
		return nil, ErrTransportUnavailable
	}
	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{pubsub: pubsub, out: make(chan []byte, 64)}
	go func() {
		defer close(sub.out)
		for msg := range pubsub.Channel() {
			select {
			case sub.out <- []byte(msg.Payload):
			default:
				// slow consumer; drop rather than block the Redis reader
			}
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }
func (s *redisSubscription) Close() error            { return s.pubsub.Close() }

// LocalHub is an in-process Publisher and Subscriber for single-node deployments and tests
type LocalHub struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSubscription]struct{}
	buffer int
}

// NewLocalHub creates a hub whose subscriptions buffer up to buffer messages
func NewLocalHub(buffer int) *LocalHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalHub{
		subs:   make(map[string]map[*localSubscription]struct{}),
		buffer: buffer,
	}
}

// Publish delivers message to every subscriber of channel without blocking
func (h *LocalHub) Publish(_ context.Context, channel string, message interface{}) error {
	var raw []byte
	switch m := message.(type) {
	case []byte:
		raw = m
	case string:
		raw = []byte(m)
	default:
		return errors.New("local hub accepts only []byte or string messages")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[channel] {
		select {
		case sub.out <- raw:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription on channels
func (h *LocalHub) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	sub := &localSubscription{hub: h, channels: channels, out: make(chan []byte, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		if h.subs[ch] == nil {
			h.subs[ch] = make(map[*localSubscription]struct{})
		}
		h.subs[ch][sub] = struct{}{}
	}
	return sub, nil
}

func (h *LocalHub) remove(sub *localSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range sub.channels {
		delete(h.subs[ch], sub)
		if len(h.subs[ch]) == 0 {
			delete(h.subs, ch)
		}
	}
}

// SubscriberCount returns the number of live subscriptions on channel
func (h *LocalHub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

type localSubscription struct {
	hub      *LocalHub
	channels []string
	out      chan []byte
	once     sync.Once
}

func (s *localSubscription) Messages() <-chan []byte { return s.out }

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.out)
	})
	return nil
}
