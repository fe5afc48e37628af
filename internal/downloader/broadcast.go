package downloader

import (
	"context"
	"sync"

	"github.com/italolelis/musicdl/internal/task"
)

// broadcaster fans snapshots out to subscribers. Each subscriber channel
// holds at most one snapshot; a newer one replaces a snapshot nobody read yet.
// New subscribers start with the latest snapshot.
type broadcaster struct {
	mu     sync.Mutex
	latest []task.State
	subs   map[chan []task.State]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		latest: []task.State{},
		subs:   make(map[chan []task.State]struct{}),
	}
}

// publish must be called with snapshots nobody mutates afterwards.
func (b *broadcaster) publish(snapshot []task.State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.latest = snapshot

	for ch := range b.subs {
		offer(ch, snapshot)
	}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan []task.State {
	ch := make(chan []task.State, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)

		return ch
	}

	ch <- b.latest
	b.subs[ch] = struct{}{}

	context.AfterFunc(ctx, func() {
		b.unsubscribe(ch)
	})

	return ch
}

func (b *broadcaster) unsubscribe(ch chan []task.State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// offer replaces whatever is buffered in ch with v. Only one goroutine may
// send on ch at a time.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}

	ch <- v
}
