// Package compress adapts the streaming compressor libraries used for a
// RemoteNode's per-direction, per-channel compression contexts. Each
// Compressor keeps its own history across frames, so compression state
// survives from one datagram to the next until explicitly reset. The codec
// never calls the reset methods: each stream runs for the life of the
// Compressor.
package compress

import (
	"fmt"
	"io"

	"github.com/superethd/seth/internal/wire"
)

// Compressor compresses and decompresses individual frame payloads using a
// persistent stream context, so later frames can reference earlier ones.
type Compressor interface {
	// Format identifies which wire.CompressionFormat this Compressor
	// implements.
	Format() wire.CompressionFormat

	// Compress writes the compressed form of src into dst and returns the
	// number of bytes written, failing if dst is too small.
	Compress(dst, src []byte) (int, error)

	// Decompress writes the decompressed form of src into dst and returns
	// the number of bytes written, failing if dst is too small.
	Decompress(dst, src []byte) (int, error)

	// ResetCompressionStream discards compression history, starting a new
	// independent stream.
	ResetCompressionStream() error

	// ResetDecompressionStream discards decompression history.
	ResetDecompressionStream() error
}

// feedReader is a minimal io.Reader that serves exactly the bytes most
// recently handed to it via feed, then reports io.EOF until fed again. It
// lets a single streaming Reader (lz4, zstd) be driven one discrete frame
// payload at a time without losing the decoder's internal window between
// frames, since EOF here only means "nothing more right now," not "stream
// closed."
type feedReader struct {
	pending []byte
}

func (r *feedReader) feed(b []byte) { r.pending = b }

func (r *feedReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// sinkWriter accumulates compressed output for one Compress call. It is
// drained and reset after every call, but the Writer wrapping it is never
// recreated, so its compression history carries forward.
type sinkWriter struct {
	buf []byte
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *sinkWriter) drainInto(dst []byte) (int, error) {
	n := len(w.buf)
	if n > len(dst) {
		return 0, fmt.Errorf("compress: output of %d bytes exceeds destination capacity %d", n, len(dst))
	}
	copy(dst, w.buf)
	w.buf = w.buf[:0]
	return n, nil
}
