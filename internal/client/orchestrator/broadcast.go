package orchestrator

import (
	"maps"
	"slices"
	"sync"
)

// Broadcaster fans status updates out to subscribers in publish order.
// Updates carry a sequence number; a stale one is dropped so observers never
// see the status move backwards.
//
// Callbacks run without the lock held, so they may subscribe, unsubscribe
// or publish. An update published from a callback is queued and delivered
// after the current one. A subscriber removed during a delivery may still
// receive that update.
type Broadcaster struct {
	mu         sync.Mutex
	next       int
	subs       map[int]func(SyncStatus)
	last       uint64
	queue      []SyncStatus
	delivering bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[int]func(SyncStatus){}}
}

// Subscribe registers fn and returns its unsubscribe function.
func (b *Broadcaster) Subscribe(fn func(SyncStatus)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Broadcaster) Publish(seq uint64, s SyncStatus) {
	b.mu.Lock()
	if seq <= b.last {
		b.mu.Unlock()
		return
	}
	b.last = seq
	b.queue = append(b.queue, s.clone())
	if b.delivering {
		b.mu.Unlock()
		return
	}
	b.delivering = true

	for len(b.queue) > 0 {
		update := b.queue[0]
		b.queue = b.queue[1:]
		subs := b.snapshot()

		b.mu.Unlock()
		for _, fn := range subs {
			fn(update.clone())
		}
		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
}

// snapshot returns the subscribers in subscription order. Callers hold mu.
func (b *Broadcaster) snapshot() []func(SyncStatus) {
	subs := make([]func(SyncStatus), 0, len(b.subs))
	for _, id := range slices.Sorted(maps.Keys(b.subs)) {
		subs = append(subs, b.subs[id])
	}
	return subs
}
