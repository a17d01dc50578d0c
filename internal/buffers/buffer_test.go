package buffers

import (
	"bytes"
	"testing"
)

func TestBufferAppendAndClear(t *testing.T) {
	b := NewBuffer(16)
	if err := b.Append([]byte("hello"), 5); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if b.Used() != 5 {
		t.Fatalf("Used() = %d, want 5", b.Used())
	}
	if !bytes.Equal(b.Data(), []byte("hello")) {
		t.Fatalf("Data() = %q, want %q", b.Data(), "hello")
	}

	b.SeqKey = 42
	b.Clear()
	if b.Used() != 0 || b.SeqKey != 0 {
		t.Fatalf("Clear() left Used=%d SeqKey=%d, want 0, 0", b.Used(), b.SeqKey)
	}
}

func TestBufferAppendOverflow(t *testing.T) {
	b := NewBuffer(4)
	if err := b.Append([]byte("toolong"), 7); err == nil {
		t.Fatalf("Append() of 7 bytes into a 4-byte buffer should fail")
	}
}

func TestBufferSetUsedOverCapacity(t *testing.T) {
	b := NewBuffer(4)
	if err := b.SetUsed(5); err == nil {
		t.Fatalf("SetUsed(5) on a 4-byte buffer should fail")
	}
}
