package alerts

import (
	"sync"

	"github.com/rs/zerolog"
)

// Delivery wraps an alert on its way to a subscriber. Dropped counts how
// many older alerts were discarded ahead of this one because the subscriber
// fell behind.
type Delivery struct {
	Alert   Alert
	Dropped int
}

// Filter selects which alerts a subscriber receives. Empty fields match
// everything.
type Filter struct {
	Symbols []string
	Types   []Type
}

func (f Filter) matches(a Alert) bool {
	if len(f.Symbols) > 0 && !containsString(f.Symbols, a.Symbol) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == a.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch      chan Delivery
	filter  Filter
	dropped int
}

// Notifier receives every published alert. External sinks (webhooks, chat
// integrations) attach through AttachNotifier; a notifier must not block.
type Notifier interface {
	Notify(Alert)
}

// Bus fans alerts out to subscribers and keeps a bounded history. Slow
// subscribers never block publishing: when a subscriber's queue is full the
// oldest queued alert is discarded and the next delivery carries the count.
type Bus struct {
	mu         sync.Mutex
	subs       map[int]*subscriber
	nextID     int
	queueDepth int
	history    []Alert
	maxHistory int
	notifiers  []Notifier
	closed     bool
	logger     zerolog.Logger
}

// NewBus creates a bus. queueDepth bounds each subscriber channel and
// maxHistory bounds the replayable history.
func NewBus(queueDepth, maxHistory int, logger zerolog.Logger) *Bus {
	return &Bus{
		subs:       make(map[int]*subscriber),
		queueDepth: queueDepth,
		maxHistory: maxHistory,
		logger:     logger,
	}
}

// AttachNotifier registers an external sink. Notifiers are invoked after
// subscriber delivery, outside the bus lock.
func (b *Bus) AttachNotifier(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers = append(b.notifiers, n)
}

// Publish records the alert in history and offers it to every subscriber.
func (b *Bus) Publish(alert Alert) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return
	}

	b.history = append(b.history, alert)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}

	for id, sub := range b.subs {
		if !sub.filter.matches(alert) {
			continue
		}
		delivery := Delivery{Alert: alert, Dropped: sub.dropped}
		select {
		case sub.ch <- delivery:
			sub.dropped = 0
		default:
			// Full queue: discard the oldest and retry once.
			select {
			case <-sub.ch:
				sub.dropped++
			default:
			}
			select {
			case sub.ch <- Delivery{Alert: alert, Dropped: sub.dropped}:
				sub.dropped = 0
			default:
				sub.dropped++
				b.logger.Warn().Int("subscriber", id).Msg("alert dropped for slow subscriber")
			}
		}
	}

	notifiers := b.notifiers
	b.mu.Unlock()

	for _, n := range notifiers {
		n.Notify(alert)
	}
}

// Subscribe registers a consumer and returns its channel plus an unsubscribe
// function. The channel is closed on unsubscribe or bus close.
func (b *Bus) Subscribe(filter Filter) (<-chan Delivery, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Delivery, b.queueDepth), filter: filter}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Recent returns the newest alerts, most recent first, at most limit.
func (b *Bus) Recent(limit int) []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.history)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, b.history[i])
	}
	return out
}

// MarkRead flags one alert in the history buffer. It reports whether the ID
// was found.
func (b *Bus) MarkRead(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.history {
		if b.history[i].ID == id {
			b.history[i].Read = true
			return true
		}
	}
	return false
}

// Close stops publication and closes every subscriber channel so consumers
// can drain what is already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
