package compress

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/superethd/seth/internal/wire"
)

// LZ4Compressor is a Compressor backed by pierrec/lz4's streaming Writer
// and Reader, the library the teacher repo already depended on.
type LZ4Compressor struct {
	sink   *sinkWriter
	writer *lz4.Writer

	src     *feedReader
	decoder *lz4.Reader
}

// NewLZ4Compressor creates an LZ4 Compressor with an empty compression and
// decompression history.
func NewLZ4Compressor() *LZ4Compressor {
	c := &LZ4Compressor{
		sink: &sinkWriter{},
		src:  &feedReader{},
	}
	c.writer = lz4.NewWriter(c.sink)
	c.decoder = lz4.NewReader(c.src)
	return c
}

// Format implements Compressor.
func (c *LZ4Compressor) Format() wire.CompressionFormat { return wire.CompressionLZ4 }

// Compress implements Compressor.
func (c *LZ4Compressor) Compress(dst, src []byte) (int, error) {
	if _, err := c.writer.Write(src); err != nil {
		return 0, fmt.Errorf("lz4: compress: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return 0, fmt.Errorf("lz4: flush: %w", err)
	}
	return c.sink.drainInto(dst)
}

// Decompress implements Compressor.
func (c *LZ4Compressor) Decompress(dst, src []byte) (int, error) {
	c.src.feed(src)
	total := 0
	for total < len(dst) {
		n, err := c.decoder.Read(dst[total:])
		total += n
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return 0, fmt.Errorf("lz4: decompress: %w", err)
		}
		if n == 0 {
			break
		}
	}
	if total == len(dst) {
		var probe [1]byte
		if n, _ := c.decoder.Read(probe[:]); n > 0 {
			return 0, fmt.Errorf("lz4: decompress: output exceeds destination capacity %d", len(dst))
		}
	}
	return total, nil
}

// ResetCompressionStream implements Compressor.
func (c *LZ4Compressor) ResetCompressionStream() error {
	c.sink.buf = c.sink.buf[:0]
	c.writer = lz4.NewWriter(c.sink)
	return nil
}

// ResetDecompressionStream implements Compressor.
func (c *LZ4Compressor) ResetDecompressionStream() error {
	c.src.pending = nil
	c.decoder = lz4.NewReader(c.src)
	return nil
}
