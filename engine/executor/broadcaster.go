package executor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/compozy/taskforest/engine/task"
)

// broadcaster fans out forest snapshots to subscribers. Publish is called
// only from the command loop, so delivery order matches mutation order. A
// slow subscriber coalesces to the most recent snapshot rather than
// blocking the loop.
type broadcaster struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]chan *task.Graph
	buf    int
	closed bool
}

func newBroadcaster(buf int) *broadcaster {
	if buf < 1 {
		buf = 1
	}
	return &broadcaster{
		subs: make(map[uuid.UUID]chan *task.Graph),
		buf:  buf,
	}
}

func (b *broadcaster) subscribe() (uuid.UUID, <-chan *task.Graph) {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := uuid.New()
	ch := make(chan *task.Graph, b.buf)
	if b.closed {
		close(ch)
		return token, ch
	}
	b.subs[token] = ch
	return token, ch
}

func (b *broadcaster) unsubscribe(token uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[token]
	if !ok {
		return
	}
	delete(b.subs, token)
	close(ch)
}

func (b *broadcaster) publish(g *task.Graph) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- g:
			continue
		default:
		}
		// Full buffer: evict the oldest snapshot and try once more. Only
		// the final consistent state is guaranteed to arrive.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- g:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for token, ch := range b.subs {
		delete(b.subs, token)
		close(ch)
	}
}
