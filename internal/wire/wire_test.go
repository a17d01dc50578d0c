package wire

import "testing"

func TestOuterHeaderRoundTrip(t *testing.T) {
	h := OuterHeader{
		Ver:      Version,
		OptLen:   3,
		OAM:      true,
		Critical: false,
		Format:   FormatEncapsulated,
		Channel:  0,
		Sequence: 0xDEADBEEF,
	}
	buf := make([]byte, OuterHeaderSize)
	h.Encode(buf)

	got := DecodeOuterHeader(buf)
	if got != h {
		t.Fatalf("DecodeOuterHeader() = %+v, want %+v", got, h)
	}
}

func TestOuterHeaderReservedBitsSurvive(t *testing.T) {
	h := OuterHeader{Ver: 1, Reserved: 0x2A, Format: FormatEncapsulated}
	buf := make([]byte, OuterHeaderSize)
	h.Encode(buf)
	got := DecodeOuterHeader(buf)
	if got.Reserved != 0x2A {
		t.Fatalf("Reserved = %#x, want 0x2A", got.Reserved)
	}
}

func TestOptionHeaderRoundTrip(t *testing.T) {
	o := OptionHeader{
		Type:           OptionPartial | OptionComplete,
		Format:         CompressionZSTD,
		OrigPacketSize: 1514,
		Part:           7,
		PayloadLength:  512,
	}
	buf := make([]byte, OptionHeaderSize)
	o.Encode(buf)

	got := DecodeOptionHeader(buf)
	if got != o {
		t.Fatalf("DecodeOptionHeader() = %+v, want %+v", got, o)
	}
}

func TestOptionTypeValid(t *testing.T) {
	cases := []struct {
		t    OptionType
		want bool
	}{
		{OptionComplete, true},
		{OptionPartial, true},
		{OptionPartial | OptionComplete, true},
		{0, false},
		{OptionType(0xF0), false},
	}
	for _, c := range cases {
		if got := c.t.Valid(); got != c.want {
			t.Errorf("OptionType(%#x).Valid() = %v, want %v", uint8(c.t), got, c.want)
		}
	}
}

func TestNextSequenceWraps(t *testing.T) {
	if got := NextSequence(0xFFFFFFFF); got != 1 {
		t.Errorf("NextSequence(max) = %d, want 1", got)
	}
	if got := NextSequence(5); got != 6 {
		t.Errorf("NextSequence(5) = %d, want 6", got)
	}
}

func TestSequenceWrapped(t *testing.T) {
	if !SequenceWrapped(0xFFFFFFFF, 1) {
		t.Errorf("SequenceWrapped(max, 1) = false, want true")
	}
	if SequenceWrapped(10, 5) {
		t.Errorf("SequenceWrapped(10, 5) = true, want false (plain out of order)")
	}
	if SequenceWrapped(5, 10) {
		t.Errorf("SequenceWrapped(5, 10) = true, want false (in order)")
	}
}
