package status

import "sync"

// Broadcaster fans Health snapshots out to subscribers. Each subscriber
// holds at most one undelivered snapshot: a newer one replaces it.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Health
	next   int
	last   Health
	closed bool
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Health)}
}

// Subscribe returns a channel that first yields the latest snapshot, and a
// cancel func that closes it.
func (b *Broadcaster) Subscribe() (<-chan Health, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Health, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	ch <- b.last

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish stamps h with the next version and delivers it. Snapshots older
// than the one being published are ignored.
func (b *Broadcaster) Publish(h Health) Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.last
	}
	if h.Version != 0 && h.Version < b.last.Version {
		return b.last
	}
	h.Version = b.last.Version + 1
	b.last = h
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- h
	}
	return h
}

// Last returns the latest snapshot.
func (b *Broadcaster) Last() Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
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
}
