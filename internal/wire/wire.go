// Package wire defines the on-the-wire header layouts for the superethd
// UDP tunnel protocol and the big-endian encode/decode helpers for them.
// Bitfields are deliberately avoided — Go has none, and the original
// byte-order-dependent bitfield layout this protocol descends from is
// fragile. Every multi-byte field is big-endian.
package wire

import "encoding/binary"

// Version is the outer-header version the encoder writes; the decoder
// rejects any higher version.
const Version = 1

// OuterHeaderSize is the fixed size of the datagram's outer header.
const OuterHeaderSize = 8

// OptionHeaderSize is the fixed size of each per-frame option header.
const OptionHeaderSize = 8

// Format identifies the outer-header payload format. Only Encapsulated is
// ever accepted on decode; Compressed is reserved and always rejected —
// compression is expressed per-frame in the option header's Format field,
// not at the outer layer.
type Format uint8

const (
	FormatEncapsulated Format = 1
	FormatCompressed   Format = 2 // reserved, never accepted
)

// CompressionFormat identifies how a single frame option's payload is
// compressed.
type CompressionFormat uint8

const (
	CompressionNone CompressionFormat = 0
	CompressionLZ4  CompressionFormat = 1
	CompressionZSTD CompressionFormat = 2
)

// OptionType holds the PARTIAL/COMPLETE bits of a frame option header.
type OptionType uint8

const (
	OptionPartial  OptionType = 1 << 0
	OptionComplete OptionType = 1 << 1
)

// Valid reports whether t is one of the three legal combinations: a
// complete frame, a non-final fragment, or the final fragment of a frame.
func (t OptionType) Valid() bool {
	switch t {
	case OptionPartial, OptionComplete, OptionPartial | OptionComplete:
		return true
	default:
		return false
	}
}

// OuterHeader is the 8-byte header that precedes every datagram.
type OuterHeader struct {
	Ver      uint8
	OptLen   uint8
	OAM      bool
	Critical bool
	Reserved uint8
	Format   Format
	Channel  uint8
	Sequence uint32
}

// Encode writes h into dst, which must be at least OuterHeaderSize bytes.
func (h *OuterHeader) Encode(dst []byte) {
	_ = dst[OuterHeaderSize-1]
	dst[0] = (h.Ver&0x0F)<<4 | (h.OptLen & 0x0F)
	var b1 uint8
	if h.OAM {
		b1 |= 1 << 7
	}
	if h.Critical {
		b1 |= 1 << 6
	}
	b1 |= h.Reserved & 0x3F
	dst[1] = b1
	dst[2] = uint8(h.Format)
	dst[3] = h.Channel
	binary.BigEndian.PutUint32(dst[4:8], h.Sequence)
}

// DecodeOuterHeader parses the first OuterHeaderSize bytes of src.
func DecodeOuterHeader(src []byte) OuterHeader {
	_ = src[OuterHeaderSize-1]
	var h OuterHeader
	h.Ver = src[0] >> 4
	h.OptLen = src[0] & 0x0F
	h.OAM = src[1]&(1<<7) != 0
	h.Critical = src[1]&(1<<6) != 0
	h.Reserved = src[1] & 0x3F
	h.Format = Format(src[2])
	h.Channel = src[3]
	h.Sequence = binary.BigEndian.Uint32(src[4:8])
	return h
}

// OptionHeader precedes each packed frame or fragment's payload within a
// datagram.
//
// Layout (8 bytes):
//
//	byte 0:   Type (OptionPartial / OptionComplete bits)
//	byte 1:   Format (CompressionFormat of this frame's payload)
//	bytes 2-3: OrigPacketSize (size of the reassembled frame before compression)
//	byte 4:   Part (0 for complete frames, 1-based for fragments)
//	byte 5:   Reserved (must be 0)
//	bytes 6-7: PayloadLength (size of the payload immediately following)
type OptionHeader struct {
	Type           OptionType
	Format         CompressionFormat
	OrigPacketSize uint16
	Part           uint8
	Reserved       uint8
	PayloadLength  uint16
}

// Encode writes o into dst, which must be at least OptionHeaderSize bytes.
func (o *OptionHeader) Encode(dst []byte) {
	_ = dst[OptionHeaderSize-1]
	dst[0] = uint8(o.Type)
	dst[1] = uint8(o.Format)
	binary.BigEndian.PutUint16(dst[2:4], o.OrigPacketSize)
	dst[4] = o.Part
	dst[5] = o.Reserved
	binary.BigEndian.PutUint16(dst[6:8], o.PayloadLength)
}

// DecodeOptionHeader parses the first OptionHeaderSize bytes of src.
func DecodeOptionHeader(src []byte) OptionHeader {
	_ = src[OptionHeaderSize-1]
	var o OptionHeader
	o.Type = OptionType(src[0])
	o.Format = CompressionFormat(src[1])
	o.OrigPacketSize = binary.BigEndian.Uint16(src[2:4])
	o.Part = src[4]
	o.Reserved = src[5]
	o.PayloadLength = binary.BigEndian.Uint16(src[6:8])
	return o
}

// SequenceWrapped reports whether cur looks like prev having wrapped past
// the uint32 boundary rather than simply arriving out of order.
func SequenceWrapped(prev, cur uint32) bool {
	return prev > cur && (prev-cur) > (1<<31)
}

// NextSequence advances seq by one emitted datagram, wrapping 2^32-1 back
// to 1 (0 is never emitted).
func NextSequence(seq uint32) uint32 {
	if seq == 0xFFFFFFFF {
		return 1
	}
	return seq + 1
}
