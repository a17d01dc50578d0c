package codec

import (
	"context"
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/superethd/seth/internal/buffers"
	"github.com/superethd/seth/internal/compress"
	"github.com/superethd/seth/internal/logging"
	"github.com/superethd/seth/internal/seth"
	"github.com/superethd/seth/internal/wire"
)

// Decoder reverses Encoder: given the datagrams a peer sends, it tracks
// sequence continuity, reassembles fragmented frames, decompresses them,
// and hands complete frames off to the TAP-write queue.
type Decoder struct {
	l2mtu    uint16
	channel  uint8
	peerAddr netip.Addr

	firstPacket    bool
	lastSequence   uint32
	lastPart       uint8
	lastOrigSize   uint16

	destBuffer *buffers.Buffer
	inflight   []*buffers.Buffer

	compressors map[wire.CompressionFormat]compress.Compressor

	pool     *buffers.Pool
	destPool *buffers.Pool
	log      *logging.Logger

	framesReceived    atomic.Uint64
	bytesReceived     atomic.Uint64
	sequenceAnomalies atomic.Uint64
}

// FramesReceived returns the number of frames this decoder has reassembled
// and delivered.
func (d *Decoder) FramesReceived() uint64 { return d.framesReceived.Load() }

// BytesReceived returns the total size of frames this decoder has delivered.
func (d *Decoder) BytesReceived() uint64 { return d.bytesReceived.Load() }

// SequenceAnomalies returns the number of out-of-order or lost-packet
// conditions this decoder has observed from its peer.
func (d *Decoder) SequenceAnomalies() uint64 { return d.sequenceAnomalies.Load() }

// NewDecoder creates a Decoder for one channel of one RemoteNode.
// compressors maps each CompressionFormat the peer may use to the
// Compressor that handles it; a format with no entry fails decode. Frames
// delivered to destPool are tagged with peerAddr so the TAP-write task can
// learn the frame's source MAC against this peer.
func NewDecoder(l2mtu uint16, channel uint8, peerAddr netip.Addr, compressors map[wire.CompressionFormat]compress.Compressor, pool, destPool *buffers.Pool, log *logging.Logger) (*Decoder, error) {
	d := &Decoder{
		l2mtu:       l2mtu,
		channel:     channel,
		peerAddr:    peerAddr,
		firstPacket: true,
		compressors: compressors,
		pool:        pool,
		destPool:    destPool,
		log:         log,
	}
	if err := d.getDestBuffer(); err != nil {
		return nil, err
	}
	return d, nil
}

// SetLastSequence overrides the sequence a decoder believes it last saw.
func (d *Decoder) SetLastSequence(seq uint32) { d.lastSequence = seq; d.firstPacket = false }

// LastSequence returns the last sequence number accepted.
func (d *Decoder) LastSequence() uint32 { return d.lastSequence }

func (d *Decoder) getDestBuffer() error {
	b, err := d.pool.PopWait(context.Background())
	if err != nil {
		return fmt.Errorf("codec: decoder: get dest buffer: %w", err)
	}
	d.destBuffer = b
	d.clearState()
	return nil
}

func (d *Decoder) clearState() {
	d.destBuffer.Clear()
	d.lastPart = 0
	d.lastOrigSize = 0
}

func (d *Decoder) pushInflight(b *buffers.Buffer) {
	d.inflight = append(d.inflight, b)
}

func (d *Decoder) flushInflight() error {
	if len(d.inflight) == 0 {
		return nil
	}
	err := d.pool.PushBatch(&d.inflight)
	d.inflight = d.inflight[:0]
	return err
}

func (d *Decoder) clearStateAndFlushInflight(datagram *buffers.Buffer) error {
	d.clearState()
	d.pushInflight(datagram)
	return d.flushInflight()
}

// logAnomaly logs a *seth.Error at the level its own Severity calls for.
func (d *Decoder) logAnomaly(err *seth.Error) {
	switch err.Severity {
	case seth.SeverityDebug:
		d.log.Debug(err.Error())
	case seth.SeverityInfo:
		d.log.Info(err.Error())
	case seth.SeverityWarning:
		d.log.Warning(err.Error())
	case seth.SeverityError:
		d.log.Error(err.Error())
	default:
		d.log.Notice(err.Error())
	}
}

// Decode consumes one datagram received from the peer, always taking
// ownership of datagram: it is retained in the decoder's in-flight list
// until the frames it contributed to are delivered or discarded.
func (d *Decoder) Decode(datagram *buffers.Buffer) error {
	if datagram.Used() < wire.OuterHeaderSize {
		d.pool.Push(datagram)
		d.destBuffer.Clear()
		return seth.ProtocolErrorf("datagram too small: %d bytes", datagram.Used())
	}

	hdr := wire.DecodeOuterHeader(datagram.Bytes())

	if hdr.Ver > wire.Version {
		d.clearStateAndFlushInflight(datagram)
		return seth.ProtocolErrorf("unsupported version %d", hdr.Ver)
	}
	if hdr.Reserved != 0 {
		d.clearStateAndFlushInflight(datagram)
		return seth.ProtocolErrorf("reserved bits set in outer header")
	}
	if hdr.Format != wire.FormatEncapsulated {
		d.clearStateAndFlushInflight(datagram)
		return seth.ProtocolErrorf("unsupported outer format %d", hdr.Format)
	}
	if hdr.Channel != d.channel {
		d.clearStateAndFlushInflight(datagram)
		return seth.ProtocolErrorf("unexpected channel %d (want %d)", hdr.Channel, d.channel)
	}

	if d.firstPacket {
		d.firstPacket = false
		d.lastSequence = hdr.Sequence - 1
	}

	expected := wire.NextSequence(d.lastSequence)
	if hdr.Sequence > expected {
		lost := hdr.Sequence - expected
		d.sequenceAnomalies.Add(1)
		d.logAnomaly(seth.SequenceAnomalyf(seth.SeverityNotice,
			"sequence %d: packet(s) lost, last=%d, total_lost=%d", hdr.Sequence, d.lastSequence, lost))
		d.clearState()
		d.flushInflight()
	} else if hdr.Sequence < expected {
		if wire.SequenceWrapped(d.lastSequence, hdr.Sequence) {
			d.log.Debugf("sequence %d: wrapped past prev=%d", hdr.Sequence, d.lastSequence)
		} else {
			d.sequenceAnomalies.Add(1)
			d.logAnomaly(seth.SequenceAnomalyf(seth.SeverityNotice,
				"sequence %d: out of order, last=%d", hdr.Sequence, d.lastSequence))
			d.clearState()
			d.flushInflight()
		}
	}
	d.lastSequence = hdr.Sequence

	pos := wire.OuterHeaderSize
	size := datagram.Used()

	for i := uint8(0); i < hdr.OptLen; i++ {
		if pos+wire.OptionHeaderSize > size {
			d.clearStateAndFlushInflight(datagram)
			return seth.ProtocolErrorf("sequence %d: option header overruns datagram", hdr.Sequence)
		}
		opt := wire.DecodeOptionHeader(datagram.Bytes()[pos:])
		if !opt.Type.Valid() || opt.Reserved != 0 {
			d.clearStateAndFlushInflight(datagram)
			return seth.ProtocolErrorf("sequence %d: invalid option header", hdr.Sequence)
		}
		if opt.OrigPacketSize > d.l2mtu {
			d.clearStateAndFlushInflight(datagram)
			return seth.Oversizef("sequence %d: reassembled frame %d exceeds L2MTU %d", hdr.Sequence, opt.OrigPacketSize, d.l2mtu)
		}

		payloadStart := pos + wire.OptionHeaderSize
		payloadEnd := payloadStart + int(opt.PayloadLength)
		if payloadEnd > size {
			d.clearStateAndFlushInflight(datagram)
			return seth.ProtocolErrorf("sequence %d: option payload overruns datagram", hdr.Sequence)
		}
		payload := datagram.Bytes()[payloadStart:payloadEnd]

		if err := d.handleOption(hdr.Sequence, opt, payload); err != nil {
			d.clearStateAndFlushInflight(datagram)
			return err
		}

		pos = payloadEnd
	}

	d.pushInflight(datagram)
	if d.lastPart == 0 {
		d.flushInflight()
	}
	return nil
}

// handleOption appends one option's payload into the reassembly buffer,
// finalizing and delivering the frame once the final fragment (or a
// stand-alone complete frame) arrives.
func (d *Decoder) handleOption(sequence uint32, opt wire.OptionHeader, payload []byte) error {
	isFinal := opt.Type&wire.OptionComplete != 0
	isFragment := opt.Type&wire.OptionPartial != 0

	if isFragment {
		expected := d.lastPart + 1
		if opt.Part != expected {
			d.log.Noticef("sequence %d: partial part %d does not match expected %d, resetting", sequence, opt.Part, expected)
			d.clearState()
			d.flushInflight()
			return nil
		}
		if d.lastPart != 0 && opt.OrigPacketSize != d.lastOrigSize {
			d.log.Noticef("sequence %d: frame size changed mid-reassembly", sequence)
			d.clearState()
			d.flushInflight()
			return nil
		}
	} else if d.lastPart != 0 {
		d.log.Noticef("sequence %d: complete option arrived mid-reassembly, resetting", sequence)
		d.clearState()
		d.flushInflight()
	}

	if err := d.destBuffer.Append(payload, len(payload)); err != nil {
		return seth.ProtocolErrorf("sequence %d: reassembly overflow: %w", sequence, err)
	}

	if !isFinal {
		d.lastPart = opt.Part
		d.lastOrigSize = opt.OrigPacketSize
		return nil
	}

	return d.finalizeFrame(sequence, opt.Format, opt.OrigPacketSize)
}

func (d *Decoder) finalizeFrame(sequence uint32, format wire.CompressionFormat, origSize uint16) error {
	out := d.destBuffer

	if format != wire.CompressionNone {
		comp, ok := d.compressors[format]
		if !ok {
			d.destBuffer.Clear()
			return seth.CodecErrorf("sequence %d: no decompressor configured for format %d", sequence, format)
		}
		plain, err := d.pool.PopWait(context.Background())
		if err != nil {
			return fmt.Errorf("codec: decoder: get decompress buffer: %w", err)
		}
		n, err := comp.Decompress(plain.Bytes(), out.Data())
		if err != nil {
			d.pool.Push(plain)
			d.destBuffer.Clear()
			return seth.CodecErrorf("sequence %d: decompress: %w", sequence, err)
		}
		if err := plain.SetUsed(n); err != nil {
			d.pool.Push(plain)
			d.destBuffer.Clear()
			return seth.CodecErrorf("sequence %d: decompressed size invalid: %w", sequence, err)
		}
		d.pool.Push(out)
		out = plain
	}

	if uint16(out.Used()) != origSize {
		d.log.Debugf("sequence %d: reassembled frame size %d differs from announced %d", sequence, out.Used(), origSize)
	}

	out.PeerAddr = d.peerAddr
	d.framesReceived.Add(1)
	d.bytesReceived.Add(uint64(out.Used()))
	if err := d.destPool.Push(out); err != nil {
		return fmt.Errorf("codec: decoder: push frame: %w", err)
	}
	return d.getDestBuffer()
}
