package timetree

import "sync"

// Bus fans committed attachments out to in-process subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[<-chan *Attachment]chan *Attachment
	closed bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[<-chan *Attachment]chan *Attachment)}
}

// Publish delivers a to every subscriber without blocking.
func (b *Bus) Publish(a *Attachment) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- a:
		default:
			// subscriber is behind; drop rather than stall the writer
		}
	}
}

// Subscribe returns a buffered channel that receives all new attachments.
// The channel is closed by Unsubscribe or Close; on a closed Bus it is
// returned already closed.
func (b *Bus) Subscribe() <-chan *Attachment {
	ch := make(chan *Attachment, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown or
// already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan *Attachment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for recv, send := range b.subs {
		delete(b.subs, recv)
		close(send)
	}
}

// Len reports the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
