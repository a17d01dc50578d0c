// Package buffers implements the fixed-capacity Buffer type and the
// bounded BufferPool that circulates them between the TAP-read, encode,
// socket-write tasks and their inverse, so the data path never allocates.
package buffers

import (
	"fmt"
	"net/netip"
)

// Buffer owns a fixed-capacity byte region plus a used-length. It may carry
// sideband metadata set by the socket-read task: the peer address a
// datagram arrived from, and the sequence number read out of its outer
// header. The decoder also sets PeerAddr on every frame it delivers.
type Buffer struct {
	data []byte
	used int

	PeerAddr netip.Addr
	SeqKey   uint32
}

// NewBuffer allocates a Buffer with the given fixed capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Capacity returns the buffer's fixed byte capacity.
func (b *Buffer) Capacity() int { return len(b.data) }

// Used returns the number of meaningful bytes currently in the buffer.
func (b *Buffer) Used() int { return b.used }

// Bytes returns the full backing array, capacity B. Callers index it
// themselves against Used()/Capacity() as needed; this mirrors the
// original's raw getData() access.
func (b *Buffer) Bytes() []byte { return b.data }

// Data returns the in-use portion of the buffer, i.e. Bytes()[:Used()].
func (b *Buffer) Data() []byte { return b.data[:b.used] }

// SetUsed sets the used-length directly, failing if n exceeds capacity.
func (b *Buffer) SetUsed(n int) error {
	if n > len(b.data) {
		return fmt.Errorf("buffer: used length %d exceeds capacity %d", n, len(b.data))
	}
	b.used = n
	return nil
}

// Append copies src[:n] to the buffer's current end and advances Used(),
// failing if it would exceed capacity.
func (b *Buffer) Append(src []byte, n int) error {
	if b.used+n > len(b.data) {
		return fmt.Errorf("buffer: append of %d bytes would exceed capacity %d (used %d)", n, len(b.data), b.used)
	}
	copy(b.data[b.used:b.used+n], src[:n])
	b.used += n
	return nil
}

// Clear resets the used-length to zero without touching the backing array.
func (b *Buffer) Clear() {
	b.used = 0
	b.PeerAddr = netip.Addr{}
	b.SeqKey = 0
}
