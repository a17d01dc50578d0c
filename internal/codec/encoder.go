// Package codec implements the datagram encoder and decoder that sit
// between a RemoteNode's TAP-facing queues and its UDP socket: batching,
// fragmenting, and optionally compressing Ethernet frames into datagrams,
// and reversing the process on the way back in.
package codec

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/superethd/seth/internal/buffers"
	"github.com/superethd/seth/internal/compress"
	"github.com/superethd/seth/internal/logging"
	"github.com/superethd/seth/internal/seth"
	"github.com/superethd/seth/internal/wire"
)

// minHeadroomOptions is how many option headers worth of room the encoder
// insists on keeping before it decides a buffer is as full as it will get
// and flushes preemptively, mirroring the flush-threshold check at the end
// of every encode call.
const minHeadroomOptions = 10

// maxOptLen is the largest option count the outer header's 4-bit OptLen
// field can carry; the encoder flushes a datagram once it holds this many.
const maxOptLen = 0x0F

// Encoder packs Ethernet frames into outgoing datagrams: batching several
// into one buffer while there's room, fragmenting ones that don't fit, and
// assigning each flushed datagram the next sequence number.
type Encoder struct {
	l2mtu uint16
	l4mtu uint16

	channel    uint8
	sequence   uint32
	compressor compress.Compressor // nil means frames are sent uncompressed

	destBuffer   *buffers.Buffer
	optLen       uint8
	packetCount  uint32
	inflight     []*buffers.Buffer
	pool         *buffers.Pool // source of fresh buffers (shared with TAP reads)
	destPool     *buffers.Pool // where filled datagram buffers are handed off
	scratch      []byte        // reused compression output staging area
	log          *logging.Logger

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
}

// FramesSent returns the number of frames this encoder has accepted and
// handed off toward the wire.
func (e *Encoder) FramesSent() uint64 { return e.framesSent.Load() }

// BytesSent returns the total uncompressed size of frames this encoder has
// accepted.
func (e *Encoder) BytesSent() uint64 { return e.bytesSent.Load() }

// NewEncoder creates an Encoder for one channel of one RemoteNode. compressor
// may be nil for an uncompressed channel.
func NewEncoder(ctx context.Context, l2mtu, l4mtu uint16, channel uint8, compressor compress.Compressor, pool, destPool *buffers.Pool, log *logging.Logger) (*Encoder, error) {
	e := &Encoder{
		l2mtu:      l2mtu,
		l4mtu:      l4mtu,
		channel:    channel,
		sequence:   1,
		compressor: compressor,
		pool:       pool,
		destPool:   destPool,
		scratch:    make([]byte, l2mtu*2+64),
		log:        log,
	}
	if err := e.getDestBuffer(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// SetSequence overrides the next sequence number to be assigned.
func (e *Encoder) SetSequence(seq uint32) { e.sequence = seq }

// Sequence returns the next sequence number that will be assigned.
func (e *Encoder) Sequence() uint32 { return e.sequence }

func (e *Encoder) getDestBuffer(ctx context.Context) error {
	b, err := e.pool.PopWait(ctx)
	if err != nil {
		return fmt.Errorf("codec: encoder: get dest buffer: %w", err)
	}
	b.Clear()
	if err := b.SetUsed(wire.OuterHeaderSize); err != nil {
		return err
	}
	e.destBuffer = b
	e.optLen = 0
	e.packetCount = 0
	return nil
}

// maxPayloadSize returns how many payload bytes could still be packed into
// the current destination buffer for a frame of the given size, accounting
// for the outer header (if the buffer is still empty) and one option
// header.
func (e *Encoder) maxPayloadSize(size uint16) uint16 {
	max := int32(e.l4mtu)
	if e.destBuffer.Used() == 0 {
		max -= wire.OuterHeaderSize
	}
	max -= wire.OptionHeaderSize
	max -= int32(e.destBuffer.Used())
	if max <= 0 {
		return 0
	}
	if int32(size) < max {
		return uint16(size)
	}
	return uint16(max)
}

func (e *Encoder) pushInflight(b *buffers.Buffer) {
	e.inflight = append(e.inflight, b)
}

func (e *Encoder) flushInflight() error {
	if len(e.inflight) == 0 {
		return nil
	}
	err := e.pool.PushBatch(&e.inflight)
	e.inflight = e.inflight[:0]
	return err
}

// flush emits the current destination buffer if it holds anything beyond
// the bare outer header, assigns it the next sequence number, and grabs a
// fresh buffer to keep encoding into.
func (e *Encoder) flush(ctx context.Context) error {
	if e.destBuffer.Used() == wire.OuterHeaderSize {
		return nil
	}

	seq := e.sequence
	e.sequence = wire.NextSequence(e.sequence)

	hdr := wire.OuterHeader{
		Ver:      wire.Version,
		OptLen:   e.optLen,
		Format:   wire.FormatEncapsulated,
		Channel:  e.channel,
		Sequence: seq,
	}
	hdr.Encode(e.destBuffer.Bytes())

	if err := e.destPool.Push(e.destBuffer); err != nil {
		return fmt.Errorf("codec: encoder: push datagram: %w", err)
	}
	return e.getDestBuffer(ctx)
}

// Flush forces out whatever is currently buffered, even if it's not full.
// Called when there's nothing else queued to batch with it.
func (e *Encoder) Flush(ctx context.Context) error {
	if err := e.flush(ctx); err != nil {
		return err
	}
	return e.flushInflight()
}

// FreeBatch returns a batch of now-empty buffers (e.g. ones just written
// out to the socket) to the same pool the encoder draws fresh destination
// buffers from.
func (e *Encoder) FreeBatch(batch *[]*buffers.Buffer) error {
	return e.pool.PushBatch(batch)
}

// writeOption appends one option header plus its payload bytes to the
// current destination buffer.
func (e *Encoder) writeOption(hdr wire.OptionHeader, payload []byte) error {
	buf := e.destBuffer
	pos := buf.Used()
	hdr.Encode(buf.Bytes()[pos : pos+wire.OptionHeaderSize])
	if err := buf.SetUsed(pos + wire.OptionHeaderSize); err != nil {
		return err
	}
	if err := buf.Append(payload, len(payload)); err != nil {
		return err
	}
	e.optLen++
	return nil
}

// Encode packs one Ethernet frame into the encoder's outgoing stream,
// compressing it if a compressor is configured and fragmenting it across
// multiple datagrams if it doesn't fit in one. It always takes ownership of
// frame: on success frame is retained until its containing datagram(s) are
// flushed, and on rejection it is returned to the pool immediately.
func (e *Encoder) Encode(ctx context.Context, frame *buffers.Buffer) error {
	if frame.Used() > int(e.l2mtu) {
		e.pool.Push(frame)
		return seth.Oversizef("frame size %d exceeds L2MTU %d", frame.Used(), e.l2mtu)
	}

	origSize := uint16(frame.Used())
	payload := frame.Data()
	format := wire.CompressionNone

	if e.compressor != nil {
		n, err := e.compressor.Compress(e.scratch, payload)
		if err != nil {
			e.log.Warningf("compress frame: %v, sending uncompressed", err)
			payload = frame.Data()
			format = wire.CompressionNone
		} else {
			payload = e.scratch[:n]
			format = e.compressor.Format()
		}
	}

	if uint16(len(payload)) > e.maxPayloadSize(uint16(len(payload))) {
		if err := e.encodeFragmented(ctx, payload, origSize, format); err != nil {
			e.pool.Push(frame)
			return err
		}
	} else {
		hdr := wire.OptionHeader{
			Type:           wire.OptionComplete,
			Format:         format,
			OrigPacketSize: origSize,
			PayloadLength:  uint16(len(payload)),
		}
		if err := e.writeOption(hdr, payload); err != nil {
			e.pool.Push(frame)
			return seth.CodecErrorf("write complete option: %w", err)
		}
	}

	e.pushInflight(frame)
	e.packetCount++
	e.framesSent.Add(1)
	e.bytesSent.Add(uint64(origSize))

	if e.optLen >= maxOptLen || e.maxPayloadSize(e.l2mtu) < wire.OuterHeaderSize+wire.OptionHeaderSize*minHeadroomOptions {
		if err := e.flush(ctx); err != nil {
			return err
		}
		if err := e.flushInflight(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeFragmented(ctx context.Context, payload []byte, origSize uint16, format wire.CompressionFormat) error {
	var part uint8 = 1
	pos := 0
	for pos < len(payload) {
		left := len(payload) - pos
		maxPayload := int(e.maxPayloadSize(uint16(left)))
		if maxPayload == 0 {
			if err := e.flush(ctx); err != nil {
				return err
			}
			maxPayload = int(e.maxPayloadSize(uint16(left)))
		}
		partSize := left
		if partSize > maxPayload {
			partSize = maxPayload
		}

		typ := wire.OptionPartial
		if pos+partSize == len(payload) {
			typ |= wire.OptionComplete
		}

		hdr := wire.OptionHeader{
			Type:           typ,
			Format:         format,
			OrigPacketSize: origSize,
			Part:           part,
			PayloadLength:  uint16(partSize),
		}
		if err := e.writeOption(hdr, payload[pos:pos+partSize]); err != nil {
			return seth.CodecErrorf("write partial option: %w", err)
		}

		if e.destBuffer.Used() == int(e.l4mtu) {
			if err := e.flush(ctx); err != nil {
				return err
			}
		}

		pos += partSize
		part++
	}
	return nil
}
