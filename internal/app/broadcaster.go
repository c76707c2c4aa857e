package service

import (
	"sync"

	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/metrics"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans persisted alerts out to live subscribers. A subscriber
// that falls behind loses alerts rather than stalling ingest.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]chan model.AlertRecord
	next   uint64
	closed bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan model.AlertRecord)}
}

// Subscribe returns a channel of alerts and a cancel func that closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan model.AlertRecord, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan model.AlertRecord, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	metrics.UpdateAlertSubscribers(len(b.subs))
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
				metrics.UpdateAlertSubscribers(len(b.subs))
			}
		})
	}
}

// Publish delivers alerts to every subscriber without blocking.
func (b *Broadcaster) Publish(alerts ...model.AlertRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, a := range alerts {
		for _, ch := range b.subs {
			select {
			case ch <- a:
			default:
				metrics.RecordErrorByComponent("alerts", "subscriber_lagging")
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	metrics.UpdateAlertSubscribers(0)
}
