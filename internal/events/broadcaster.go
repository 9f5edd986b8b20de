package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind is a lifecycle event kind.
type Kind string

const (
	KindStarted      Kind = "started"
	KindStatusUpdate Kind = "status_update"
	KindCompleted    Kind = "completed"
	KindFailed       Kind = "failed"
)

// Event is one lifecycle event, fanned out to the verification, document,
// user and organization topics it belongs to.
type Event struct {
	Kind           Kind                   `json:"event"`
	VerificationID string                 `json:"verification_id"`
	DocumentID     string                 `json:"document_id"`
	UserID         string                 `json:"user_id"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Topic scopes.
const (
	ScopeVerification = "verification"
	ScopeDocument     = "document"
	ScopeUser         = "user"
	ScopeOrganization = "org"
)

func topicKey(scope, id string) string { return scope + ":" + id }

// AccessChecker decides whether a caller may subscribe to a verification or
// document topic. Checked against the store, never against the topic name.
type AccessChecker interface {
	CanSubscribe(ctx context.Context, userID, organizationID, scope, id string) error
}

// Subscriber is one connected client. Delivery is at-most-once: a full Send
// buffer drops the event rather than blocking the fan-out loop.
type Subscriber struct {
	ID             string
	UserID         string
	OrganizationID string
	Send           chan Event

	mu     sync.Mutex
	topics map[string]struct{}
}

// NewSubscriber creates a subscriber for the given caller identity.
func NewSubscriber(id, userID, organizationID string) *Subscriber {
	return &Subscriber{
		ID:             id,
		UserID:         userID,
		OrganizationID: organizationID,
		Send:           make(chan Event, 64),
		topics:         make(map[string]struct{}),
	}
}

func (s *Subscriber) joined(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) left(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

func (s *Subscriber) joinedTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	return topics
}

// Broadcaster fans lifecycle events out to topic subscribers. Publishers
// write to an outbound channel and the run loop drains it, so ordering per
// topic is the enqueue order and publishing never blocks the orchestrator.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}

	events chan Event
	stop   chan struct{}
	access AccessChecker
	logger *zap.Logger
}

func NewBroadcaster(access AccessChecker, logger *zap.Logger) *Broadcaster {
	b := &Broadcaster{
		topics: make(map[string]map[*Subscriber]struct{}),
		events: make(chan Event, 256),
		stop:   make(chan struct{}),
		access: access,
		logger: logger,
	}
	go b.run()
	return b
}

// Publish enqueues an event for fan-out. Never blocks; if the outbound queue
// is full the event is dropped and logged.
func (b *Broadcaster) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case b.events <- evt:
	case <-b.stop:
	default:
		b.logger.Warn("event queue full, dropping event",
			zap.String("kind", string(evt.Kind)),
			zap.String("verification_id", evt.VerificationID))
	}
}

func (b *Broadcaster) run() {
	for {
		select {
		case evt := <-b.events:
			b.fanOut(evt)
		case <-b.stop:
			return
		}
	}
}

func (b *Broadcaster) fanOut(evt Event) {
	keys := []string{
		topicKey(ScopeVerification, evt.VerificationID),
		topicKey(ScopeDocument, evt.DocumentID),
		topicKey(ScopeUser, evt.UserID),
	}
	if evt.OrganizationID != "" {
		keys = append(keys, topicKey(ScopeOrganization, evt.OrganizationID))
	}

	delivered := make(map[*Subscriber]struct{})
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, key := range keys {
		for sub := range b.topics[key] {
			// At-most-once per connected subscriber, even across topics.
			if _, done := delivered[sub]; done {
				continue
			}
			delivered[sub] = struct{}{}
			select {
			case sub.Send <- evt:
			default:
				b.logger.Debug("subscriber buffer full, dropping event",
					zap.String("subscriber", sub.ID),
					zap.String("topic", key))
			}
		}
	}
}

// Subscribe joins a subscriber to a topic after an access check. User and org
// topics are restricted to the caller's own identity; verification and
// document topics are checked against the store.
func (b *Broadcaster) Subscribe(ctx context.Context, sub *Subscriber, scope, id string) error {
	switch scope {
	case ScopeUser:
		if id != sub.UserID {
			return fmt.Errorf("cannot subscribe to another user's topic")
		}
	case ScopeOrganization:
		if id == "" || id != sub.OrganizationID {
			return fmt.Errorf("cannot subscribe to another organization's topic")
		}
	case ScopeVerification, ScopeDocument:
		if err := b.access.CanSubscribe(ctx, sub.UserID, sub.OrganizationID, scope, id); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown scope %q", scope)
	}

	key := topicKey(scope, id)
	b.mu.Lock()
	if b.topics[key] == nil {
		b.topics[key] = make(map[*Subscriber]struct{})
	}
	b.topics[key][sub] = struct{}{}
	b.mu.Unlock()
	sub.joined(key)
	return nil
}

// Unsubscribe removes a subscriber from one topic.
func (b *Broadcaster) Unsubscribe(sub *Subscriber, scope, id string) {
	key := topicKey(scope, id)
	b.mu.Lock()
	if subs := b.topics[key]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, key)
		}
	}
	b.mu.Unlock()
	sub.left(key)
}

// Remove detaches a disconnecting subscriber from every topic it joined.
func (b *Broadcaster) Remove(sub *Subscriber) {
	for _, key := range sub.joinedTopics() {
		b.mu.Lock()
		if subs := b.topics[key]; subs != nil {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.topics, key)
			}
		}
		b.mu.Unlock()
		sub.left(key)
	}
}

// SubscriberCount returns the number of subscribers on a topic.
func (b *Broadcaster) SubscriberCount(scope, id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topicKey(scope, id)])
}

// Close stops the fan-out loop.
func (b *Broadcaster) Close() {
	close(b.stop)
}
