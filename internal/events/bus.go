// Package events provides the publish/subscribe fan-out for price,
// analysis, signal, and simulation events.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Topic identifies an event stream.
type Topic string

const (
	TopicPriceUpdate    Topic = "price_update"
	TopicBarClose       Topic = "bar_close"
	TopicAnalysisReady  Topic = "analysis_ready"
	TopicSignal         Topic = "signal"
	TopicPositionOpened Topic = "position_opened"
	TopicPositionClosed Topic = "position_closed"
	TopicDailyRoll      Topic = "daily_roll"
	TopicSystemHealth   Topic = "system_health"
)

// Topics lists every topic the bus carries.
var Topics = []Topic{
	TopicPriceUpdate,
	TopicBarClose,
	TopicAnalysisReady,
	TopicSignal,
	TopicPositionOpened,
	TopicPositionClosed,
	TopicDailyRoll,
	TopicSystemHealth,
}

// Event is one published item.
type Event struct {
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// Handler consumes events for one subscription. Handlers run on the
// subscription's own dispatch goroutine, never on the publisher's.
type Handler func(*Event)

// Token identifies a subscription for Unsubscribe.
type Token uint64

// DefaultQueueSize bounds each subscriber's queue. A slow subscriber
// loses its oldest events rather than back-pressuring the producer.
const DefaultQueueSize = 1024

type subscriber struct {
	queue   chan *Event
	done    chan struct{}
	stopped sync.WaitGroup
}

// Bus is the process-wide event broadcaster. Delivery is fire-and-forget,
// best-effort ordered per topic.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic]map[Token]*subscriber
	nextToken uint64
	queueSize int
	dropped   atomic.Uint64
	published atomic.Uint64
	log       zerolog.Logger
}

// NewBus creates an event bus with the default per-subscriber queue bound.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs:      make(map[Topic]map[Token]*subscriber),
		queueSize: DefaultQueueSize,
		log:       log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for topic and returns the token that
// identifies the subscription.
func (b *Bus) Subscribe(topic Topic, handler Handler) Token {
	sub := &subscriber{
		queue: make(chan *Event, b.queueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.nextToken++
	token := Token(b.nextToken)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[Token]*subscriber)
	}
	b.subs[topic][token] = sub
	b.mu.Unlock()

	sub.stopped.Add(1)
	go func() {
		defer sub.stopped.Done()
		for {
			select {
			case <-sub.done:
				return
			case event := <-sub.queue:
				select {
				case <-sub.done:
					return
				default:
				}
				handler(event)
			}
		}
	}()

	return token
}

// Unsubscribe removes the subscription. No deliveries happen to its
// handler after Unsubscribe returns.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	var sub *subscriber
	for _, topicSubs := range b.subs {
		if s, ok := topicSubs[token]; ok {
			sub = s
			delete(topicSubs, token)
			break
		}
	}
	b.mu.Unlock()

	if sub != nil {
		close(sub.done)
		sub.stopped.Wait()
	}
}

// Publish delivers data to every subscriber of its topic. A full
// subscriber queue sheds its oldest event and the drop counter advances.
func (b *Bus) Publish(module string, data EventData) {
	event := &Event{
		Topic:     data.Topic(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}
	b.published.Add(1)

	b.mu.RLock()
	topicSubs := b.subs[event.Topic]
	targets := make([]*subscriber, 0, len(topicSubs))
	for _, sub := range topicSubs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- event:
		default:
			// Queue full: shed the oldest event, then enqueue.
			select {
			case <-sub.queue:
				b.dropped.Add(1)
				b.log.Warn().
					Str("event_topic", string(event.Topic)).
					Msg("Subscriber queue full, dropping oldest event")
			default:
			}
			select {
			case sub.queue <- event:
			default:
				b.dropped.Add(1)
			}
		}
	}

	b.log.Debug().
		Str("event_topic", string(event.Topic)).
		Str("module", module).
		Msg("Event published")
}

// Dropped returns the total number of shed events.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Published returns the total number of published events.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}
