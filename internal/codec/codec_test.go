package codec

import (
	"bytes"
	"context"
	"net/netip"
	"testing"

	"github.com/superethd/seth/internal/buffers"
	"github.com/superethd/seth/internal/compress"
	"github.com/superethd/seth/internal/logging"
	"github.com/superethd/seth/internal/pkttest"
	"github.com/superethd/seth/internal/wire"
)

const (
	testL2MTU = 1514
	testL4MTU = 1400
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New("codec-test", logging.ERROR, "")
	if err != nil {
		t.Fatalf("logging.New() error: %v", err)
	}
	return log
}

// roundtrip wires an Encoder and Decoder together through intermediate
// pools, exactly as a RemoteNode does, and feeds every frame in frames
// through Encode -> Flush -> Decode in order, returning what the decoder
// delivered.
func roundtrip(t *testing.T, compressor compress.Compressor, decompressors map[wire.CompressionFormat]compress.Compressor, frames [][]byte) [][]byte {
	t.Helper()
	ctx := context.Background()
	log := newTestLogger(t)

	txPool := buffers.NewPrefilledPool(testL2MTU+testL2MTU/10, 64)
	socketQueue := buffers.NewPool(testL2MTU+testL2MTU/10, 64)
	rxPool := buffers.NewPrefilledPool(testL2MTU+testL2MTU/10, 64)
	outQueue := buffers.NewPool(testL2MTU+testL2MTU/10, 64)

	enc, err := NewEncoder(ctx, testL2MTU, testL4MTU, 0, compressor, txPool, socketQueue, log)
	if err != nil {
		t.Fatalf("NewEncoder() error: %v", err)
	}
	dec, err := NewDecoder(testL2MTU, 0, netip.MustParseAddr("10.0.0.1"), decompressors, rxPool, outQueue, log)
	if err != nil {
		t.Fatalf("NewDecoder() error: %v", err)
	}

	for _, data := range frames {
		frame, err := txPool.PopWait(ctx)
		if err != nil {
			t.Fatalf("PopWait() error: %v", err)
		}
		if err := frame.Append(data, len(data)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		if err := enc.Encode(ctx, frame); err != nil {
			t.Fatalf("Encode() error: %v", err)
		}
	}
	if err := enc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	var datagrams []*buffers.Buffer
	for socketQueue.Count() > 0 {
		b, err := socketQueue.PopWait(ctx)
		if err != nil {
			t.Fatalf("PopWait(socketQueue) error: %v", err)
		}
		datagrams = append(datagrams, b)
	}
	if len(datagrams) == 0 {
		t.Fatal("encoder produced no datagrams")
	}

	for _, d := range datagrams {
		if err := dec.Decode(d); err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
	}

	var out [][]byte
	for outQueue.Count() > 0 {
		b, err := outQueue.PopWait(ctx)
		if err != nil {
			t.Fatalf("PopWait(outQueue) error: %v", err)
		}
		cp := append([]byte(nil), b.Data()...)
		out = append(out, cp)
	}
	return out
}

func TestRoundTripSingleSmallFrame(t *testing.T) {
	frame := pkttest.IPv4UDPFrame(
		[6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		[6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		netipIPv4(10, 0, 0, 1), netipIPv4(10, 0, 0, 2),
		1234, 5678, pkttest.Fill(64, 0x42),
	)

	out := roundtrip(t, nil, nil, [][]byte{frame})
	if len(out) != 1 {
		t.Fatalf("got %d frames, want 1", len(out))
	}
	if !bytes.Equal(out[0], frame) {
		t.Fatalf("decoded frame does not match input:\n got  %x\n want %x", out[0], frame)
	}
}

func TestRoundTripMultipleFramesBatched(t *testing.T) {
	var frames [][]byte
	for i := 0; i < 5; i++ {
		frames = append(frames, pkttest.EthernetFrame(
			[6]byte{0, 0, 0, 0, 0, byte(i)},
			[6]byte{0, 0, 0, 0, 1, byte(i)},
			0x0800, pkttest.Fill(100+i, byte(i)),
		))
	}

	out := roundtrip(t, nil, nil, frames)
	if len(out) != len(frames) {
		t.Fatalf("got %d frames, want %d", len(out), len(frames))
	}
	for i := range frames {
		if !bytes.Equal(out[i], frames[i]) {
			t.Fatalf("frame %d does not match: got %x want %x", i, out[i], frames[i])
		}
	}
}

func TestRoundTripFragmentedFrame(t *testing.T) {
	big := pkttest.EthernetFrame(
		[6]byte{1, 2, 3, 4, 5, 6},
		[6]byte{6, 5, 4, 3, 2, 1},
		0x0800, pkttest.Fill(testL2MTU-14-10, 0x7),
	)

	out := roundtrip(t, nil, nil, [][]byte{big})
	if len(out) != 1 {
		t.Fatalf("got %d frames, want 1", len(out))
	}
	if !bytes.Equal(out[0], big) {
		t.Fatalf("reassembled fragmented frame does not match input (len got=%d want=%d)", len(out[0]), len(big))
	}
}

func TestRoundTripLZ4Compressed(t *testing.T) {
	enc := compress.NewLZ4Compressor()
	dec := compress.NewLZ4Compressor()
	decompressors := map[wire.CompressionFormat]compress.Compressor{
		wire.CompressionLZ4: dec,
	}

	frame := pkttest.EthernetFrame(
		[6]byte{9, 9, 9, 9, 9, 9},
		[6]byte{8, 8, 8, 8, 8, 8},
		0x0800, bytes.Repeat([]byte{0xAB}, 300),
	)

	out := roundtrip(t, enc, decompressors, [][]byte{frame})
	if len(out) != 1 {
		t.Fatalf("got %d frames, want 1", len(out))
	}
	if !bytes.Equal(out[0], frame) {
		t.Fatalf("decoded compressed frame does not match input")
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	ctx := context.Background()
	log := newTestLogger(t)
	txPool := buffers.NewPrefilledPool(testL2MTU+testL2MTU/10, 4)
	socketQueue := buffers.NewPool(testL2MTU+testL2MTU/10, 4)

	enc, err := NewEncoder(ctx, testL2MTU, testL4MTU, 0, nil, txPool, socketQueue, log)
	if err != nil {
		t.Fatalf("NewEncoder() error: %v", err)
	}

	frame, err := txPool.PopWait(ctx)
	if err != nil {
		t.Fatalf("PopWait() error: %v", err)
	}
	if err := frame.SetUsed(testL2MTU + 1); err != nil {
		t.Fatalf("SetUsed() error: %v", err)
	}

	if err := enc.Encode(ctx, frame); err == nil {
		t.Fatal("Encode() of an oversized frame should fail")
	}
}

func netipIPv4(a, b, c, d byte) []byte { return []byte{a, b, c, d} }
