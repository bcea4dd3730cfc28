package bus

import (
	"sync"

	"tradeflow/logger"
	"tradeflow/models"
)

// Topic identifies one event stream on the bus.
type Topic string

const (
	TopicUpdate Topic = "update"
	TopicFill   Topic = "fill"
	TopicError  Topic = "error"
	TopicLog    Topic = "log"
)

// Handler receives every payload published on a subscribed topic. Handlers
// run synchronously on the publisher's goroutine and must not block.
type Handler func(payload interface{})

type Stats struct {
	Published int64
	Delivered int64
}

// Bus is a topic based publish/subscribe hub consumed by host applications.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[int]Handler
	nextID int

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func New() *Bus {
	return &Bus{
		subs: make(map[Topic]map[int]Handler),
		log:  logger.GetLogger(),
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish delivers the payload to every subscriber of the topic before
// returning. Fill events are additionally counted for the runtime report.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if topic == TopicFill {
		logger.IncrementFill()
	}
	logger.RecordTopicMessage(string(topic), 1)

	b.statsMutex.Lock()
	b.stats.Published++
	b.stats.Delivered += int64(len(handlers))
	b.statsMutex.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

// PublishError is a convenience for background loops that surface failures
// as events rather than returned errors.
func (b *Bus) PublishError(message string) {
	b.Publish(TopicError, message)
}

// PublishLog mirrors a log line onto the bus for host applications that
// render connector activity.
func (b *Bus) PublishLog(message string, severity models.LogSeverity) {
	b.Publish(TopicLog, models.LogEvent{Message: message, Severity: severity})
}

// GetStats returns a copy of the publish counters.
func (b *Bus) GetStats() Stats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()
	return b.stats
}
