// Package stream holds small concurrency primitives shared by the rx
// package's observation and scheduling code. It has no dependency on rx
// itself so it can be unit-tested in isolation.
package stream

import "sync"

// Broadcaster wakes any number of waiters exactly once per Broadcast call,
// without requiring waiters to register or unregister. A waiter calls Wait
// to obtain the current generation's channel, does its own work under its
// own lock, and then selects on that channel; Broadcast closes it and swaps
// in a fresh one so the next Wait call returns a channel for the next
// generation. This avoids the callback-registration bookkeeping an
// explicit pub/sub list would need for a single "something changed" signal.
type Broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewBroadcaster returns a ready-to-use Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{ch: make(chan struct{})}
}

// Wait returns the channel that closes on the next call to Broadcast.
func (b *Broadcaster) Wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// Broadcast wakes every outstanding Wait channel and rolls over to a new
// generation.
func (b *Broadcaster) Broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}
