// Package pubsub provides an in-process topic broker feeding subscription
// resolvers. Delivery is ordered per subscriber; subscriptions are scoped to
// a context and detach when it ends. State is local to the process, which is
// suitable for single-node deployments and tests.
package pubsub

import (
	"context"
	"sync"
)

// subscriberBuffer bounds undelivered events per subscriber before Publish
// blocks on that subscriber.
const subscriberBuffer = 16

// Broker fans published events out to every subscriber of a topic.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ctx context.Context
	ch  chan interface{}
}

func New() *Broker {
	return &Broker{topics: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a subscriber for the topic. The returned channel stays
// open for the life of ctx; it is never closed, consumers terminate via
// their context. The channel type matches what the graphql subscription
// engine consumes.
func (b *Broker) Subscribe(ctx context.Context, topic string) chan interface{} {
	sub := &subscriber{ctx: ctx, ch: make(chan interface{}, subscriberBuffer)}

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*subscriber]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if subs, ok := b.topics[topic]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
		b.mu.Unlock()
	}()

	return sub.ch
}

// SubscriberCount reports how many subscribers the topic currently has.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish delivers the event to every current subscriber of the topic, in
// order per subscriber. A send to a full subscriber suspends until that
// subscriber drains or departs.
func (b *Broker) Publish(ctx context.Context, topic string, event interface{}) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.topics[topic]))
	for sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return
		case <-sub.ctx.Done():
		case sub.ch <- event:
		}
	}
}
