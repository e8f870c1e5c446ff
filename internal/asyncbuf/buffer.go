// Package asyncbuf implements a bounded producer/consumer queue with
// backpressure and a graceful drain, the backbone of the embedding
// pipeline's decoupling between file loading and embedding.
package asyncbuf

import (
	"sync"

	"github.com/ghsemantic/ingest/internal/item"
)

// Buffer is a bounded FIFO of item.Item with explicit Push/Pull/Finish
// semantics. A naive unbounded channel would let the file loader outrun
// a slow embedding backend until the process OOMs; Buffer bounds memory
// by blocking producers once full.
type Buffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []item.Item
	maxSize  int
	batch    int
	done     bool
}

// New creates a Buffer holding at most maxSize items, with Pull returning
// once at least batchSize items are queued (or the buffer is finished).
func New(maxSize, batchSize int) *Buffer {
	b := &Buffer{maxSize: maxSize, batch: batchSize}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Push adds an item to the buffer, blocking while it is at capacity. Push
// after Finish is a programming error and panics, since producers must
// stop pushing before calling Finish.
func (b *Buffer) Push(it item.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.items) >= b.maxSize && !b.done {
		b.notFull.Wait()
	}
	if b.done {
		panic("asyncbuf: Push after Finish")
	}

	b.items = append(b.items, it)
	b.notEmpty.Signal()
}

// Pull blocks until at least batchSize items are queued or the buffer is
// finished, then returns up to batchSize items. ok is false only once the
// buffer has been finished AND fully drained; a finished-but-nonempty
// buffer still returns ok=true with whatever remains, so every item
// pushed is eventually observed by some Pull call.
func (b *Buffer) Pull() (batch []item.Item, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.items) < b.batch && !b.done {
		b.notEmpty.Wait()
	}

	if len(b.items) == 0 {
		return nil, false
	}

	n := b.batch
	if n > len(b.items) {
		n = len(b.items)
	}
	batch = b.items[:n]
	b.items = b.items[n:]
	b.notFull.Signal()
	return batch, true
}

// Finish flips the buffer into draining mode: no further Push is
// permitted, and every blocked Pull wakes up immediately to either
// return its remaining items or, once drained, ok=false.
func (b *Buffer) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Len returns the number of items currently queued, for diagnostics.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
