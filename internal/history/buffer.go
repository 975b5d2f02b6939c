package history

import "pricewatch/internal/model"

// Buffer is a fixed-capacity FIFO of samples. It is not safe for concurrent use;
// Store guards each buffer with the owning series lock.
type Buffer struct {
	items []model.Sample
	head  int
	size  int
}

// NewBuffer allocates a ring of the given capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic("history buffer capacity must be positive")
	}
	return &Buffer{items: make([]model.Sample, capacity)}
}

// Append stores s, evicting the oldest entry when full.
func (b *Buffer) Append(s model.Sample) {
	idx := (b.head + b.size) % len(b.items)
	b.items[idx] = s
	if b.size < len(b.items) {
		b.size++
		return
	}
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int { return b.size }

// Cap returns the configured capacity.
func (b *Buffer) Cap() int { return len(b.items) }

// Snapshot copies retained samples, oldest first.
func (b *Buffer) Snapshot() []model.Sample {
	out := make([]model.Sample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}
