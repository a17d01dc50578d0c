package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/superethd/seth/internal/wire"
)

// ZSTDCompressor is a Compressor backed by klauspost/compress/zstd, pulled
// in from the rest of the pack's dependency surface for channels configured
// to use the higher-ratio codec.
type ZSTDCompressor struct {
	sink   *sinkWriter
	writer *zstd.Encoder

	src     *feedReader
	decoder *zstd.Decoder
}

// NewZSTDCompressor creates a ZSTD Compressor with an empty compression and
// decompression history.
func NewZSTDCompressor() (*ZSTDCompressor, error) {
	c := &ZSTDCompressor{
		sink: &sinkWriter{},
		src:  &feedReader{},
	}
	enc, err := zstd.NewWriter(c.sink, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd: new encoder: %w", err)
	}
	dec, err := zstd.NewReader(c.src)
	if err != nil {
		return nil, fmt.Errorf("zstd: new decoder: %w", err)
	}
	c.writer = enc
	c.decoder = dec
	return c, nil
}

// Format implements Compressor.
func (c *ZSTDCompressor) Format() wire.CompressionFormat { return wire.CompressionZSTD }

// Compress implements Compressor.
func (c *ZSTDCompressor) Compress(dst, src []byte) (int, error) {
	if _, err := c.writer.Write(src); err != nil {
		return 0, fmt.Errorf("zstd: compress: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return 0, fmt.Errorf("zstd: flush: %w", err)
	}
	return c.sink.drainInto(dst)
}

// Decompress implements Compressor.
func (c *ZSTDCompressor) Decompress(dst, src []byte) (int, error) {
	c.src.feed(src)
	total := 0
	for total < len(dst) {
		n, err := c.decoder.Read(dst[total:])
		total += n
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return 0, fmt.Errorf("zstd: decompress: %w", err)
		}
		if n == 0 {
			break
		}
	}
	if total == len(dst) {
		var probe [1]byte
		if n, _ := c.decoder.Read(probe[:]); n > 0 {
			return 0, fmt.Errorf("zstd: decompress: output exceeds destination capacity %d", len(dst))
		}
	}
	return total, nil
}

// ResetCompressionStream implements Compressor.
func (c *ZSTDCompressor) ResetCompressionStream() error {
	c.sink.buf = c.sink.buf[:0]
	c.writer.Reset(c.sink)
	return nil
}

// ResetDecompressionStream implements Compressor.
func (c *ZSTDCompressor) ResetDecompressionStream() error {
	c.src.pending = nil
	return c.decoder.Reset(c.src)
}

// Close releases the decoder's background resources. Call it when a
// channel's compression context is being torn down for good, not on every
// reset.
func (c *ZSTDCompressor) Close() {
	c.decoder.Close()
}
