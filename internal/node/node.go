// Package node implements RemoteNode: the per-peer state a PacketSwitch
// keeps for every address it tunnels to — its own encoder, decoder, and
// the three goroutines that drive them and the UDP socket write path.
package node

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/superethd/seth/internal/buffers"
	"github.com/superethd/seth/internal/codec"
	"github.com/superethd/seth/internal/compress"
	"github.com/superethd/seth/internal/logging"
	"github.com/superethd/seth/internal/seth"
	"github.com/superethd/seth/internal/wire"
)

// encoderPollInterval is how long the encoder loop waits for a batch of
// frames to build up before flushing whatever it already has, mirroring
// the original's millisecond timeout-then-flush behavior.
const encoderPollInterval = time.Millisecond

// Writer is the subset of *net.UDPConn the socket-write task needs. It is
// satisfied directly by *net.UDPConn; tests can supply a fake.
type Writer interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// StatsSnapshot is a point-in-time copy of a RemoteNode's traffic counters,
// combining its encoder's and decoder's own counts with frames this node's
// goroutines dropped outright (encode/decode errors that never reached the
// wire or the TAP, and datagrams whose send failed).
type StatsSnapshot struct {
	FramesSent        uint64
	FramesReceived    uint64
	BytesSent         uint64
	BytesReceived     uint64
	DroppedFrames     uint64
	SequenceAnomalies uint64
}

// Config bundles everything needed to construct a RemoteNode.
type Config struct {
	Addr    netip.AddrPort
	L2MTU   uint16
	L4MTU   uint16
	Channel uint8

	// TXPool is the pool of free buffers the PacketSwitch's TAP-read task
	// draws from: the encoder pulls fresh datagram buffers from it and
	// returns consumed frame/datagram buffers to it once they're flushed
	// or written out, keeping it the single source and sink for every
	// buffer on the outbound path.
	TXPool *buffers.Pool
	// RXPool is the pool of free buffers the PacketSwitch's socket-read
	// task draws from: the decoder pulls fresh reassembly buffers from it
	// and returns consumed datagram buffers to it, the inbound-path
	// counterpart to TXPool.
	RXPool *buffers.Pool
	// TAPWritePool is where fully decoded frames are delivered for the
	// PacketSwitch's TAP-write task to pick up.
	TAPWritePool *buffers.Pool
	// BufferSize is the capacity every buffer in this node's private
	// pools (decoder inbox, encoder inbox, socket-write outbox) must have.
	BufferSize int
	// QueueDepth bounds how many buffers each private pool can hold
	// before producers block.
	QueueDepth int

	Compressor    compress.Compressor
	Decompressors map[wire.CompressionFormat]compress.Compressor

	Conn Writer
	Log  *logging.Logger
}

// RemoteNode is one tunnel peer: its own codec state, its own inbound and
// outbound buffer queues, and the goroutines that drain them.
type RemoteNode struct {
	addr    netip.AddrPort
	channel uint8

	decoderQueue     *buffers.Pool // incoming datagrams destined to this peer
	encoderQueue     *buffers.Pool // outgoing frames destined to this peer
	socketWriteQueue *buffers.Pool // encoded datagrams waiting to be sent

	encoder *codec.Encoder
	decoder *codec.Decoder

	conn Writer
	log  *logging.Logger

	// dropped counts frames this node's own encoder/decoder loops rejected
	// outright (never reaching the wire or the TAP) and datagrams the
	// socket-write loop failed to send, separate from the
	// frames/bytes counters the encoder and decoder keep for themselves.
	dropped atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a RemoteNode and prepares its encoder and decoder, but
// does not start its goroutines — call Start for that.
func New(ctx context.Context, cfg Config) (*RemoteNode, error) {
	n := &RemoteNode{
		addr:             cfg.Addr,
		channel:          cfg.Channel,
		decoderQueue:     buffers.NewPool(cfg.BufferSize, cfg.QueueDepth),
		encoderQueue:     buffers.NewPool(cfg.BufferSize, cfg.QueueDepth),
		socketWriteQueue: buffers.NewPool(cfg.BufferSize, cfg.QueueDepth),
		conn:             cfg.Conn,
		log:              cfg.Log.WithComponent(fmt.Sprintf("node[%s]", cfg.Addr)),
	}

	enc, err := codec.NewEncoder(ctx, cfg.L2MTU, cfg.L4MTU, cfg.Channel, cfg.Compressor, cfg.TXPool, n.socketWriteQueue, n.log)
	if err != nil {
		return nil, fmt.Errorf("node: new encoder: %w", err)
	}
	dec, err := codec.NewDecoder(cfg.L2MTU, cfg.Channel, cfg.Addr.Addr(), cfg.Decompressors, cfg.RXPool, cfg.TAPWritePool, n.log)
	if err != nil {
		return nil, fmt.Errorf("node: new decoder: %w", err)
	}
	n.encoder = enc
	n.decoder = dec
	return n, nil
}

// Addr returns the peer's UDP address.
func (n *RemoteNode) Addr() netip.AddrPort { return n.addr }

// String identifies this node for logging and satisfies fdb.Peer.
func (n *RemoteNode) String() string { return n.addr.String() }

// DecoderQueue is where the PacketSwitch's socket-read task hands datagrams
// addressed to this peer.
func (n *RemoteNode) DecoderQueue() *buffers.Pool { return n.decoderQueue }

// EncoderQueue is where the PacketSwitch's TAP-read task hands frames bound
// for this peer, after an FDB lookup selects it.
func (n *RemoteNode) EncoderQueue() *buffers.Pool { return n.encoderQueue }

// Stats returns a snapshot of this node's traffic counters.
func (n *RemoteNode) Stats() StatsSnapshot {
	return StatsSnapshot{
		FramesSent:        n.encoder.FramesSent(),
		FramesReceived:    n.decoder.FramesReceived(),
		BytesSent:         n.encoder.BytesSent(),
		BytesReceived:     n.decoder.BytesReceived(),
		DroppedFrames:     n.dropped.Load(),
		SequenceAnomalies: n.decoder.SequenceAnomalies(),
	}
}

// Start launches the decoder, encoder, and socket-write goroutines. It
// returns once they're running; call Stop to shut them down.
func (n *RemoteNode) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(3)
	go n.decoderLoop(ctx)
	go n.encoderLoop(ctx)
	go n.socketWriteLoop(ctx)
}

// Stop signals the node's goroutines to exit and waits for them to finish.
func (n *RemoteNode) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

func (n *RemoteNode) decoderLoop(ctx context.Context) {
	defer n.wg.Done()
	n.log.Debug("decoder: starting")
	for {
		batch, err := n.decoderQueue.Wait(ctx, buffers.PopAll)
		if err != nil {
			n.log.Debugf("decoder: exiting: %v", err)
			return
		}
		for _, b := range batch {
			if err := n.decoder.Decode(b); err != nil {
				n.dropped.Add(1)
				n.log.Noticef("decoder: %v", err)
			}
		}
	}
}

func (n *RemoteNode) encoderLoop(ctx context.Context) {
	defer n.wg.Done()
	n.log.Debug("encoder: starting")

	idle := false
	for {
		var batch []*buffers.Buffer
		var ok bool
		var err error
		if idle {
			// Nothing arrived within the poll interval after the last
			// flush: block indefinitely instead of polling, since
			// WaitFor with a zero timeout would cancel its context
			// immediately and busy-spin.
			batch, err = n.encoderQueue.Wait(ctx, buffers.PopAll)
			ok = true
		} else {
			batch, ok, err = n.encoderQueue.WaitFor(ctx, encoderPollInterval, buffers.PopAll)
		}
		if err != nil {
			n.log.Debugf("encoder: exiting: %v", err)
			return
		}
		if !ok {
			if err := n.encoder.Flush(ctx); err != nil {
				n.log.Noticef("encoder: flush: %v", err)
			}
			idle = true
			continue
		}

		for _, b := range batch {
			if err := n.encoder.Encode(ctx, b); err != nil {
				n.dropped.Add(1)
				n.log.Noticef("encoder: %v", err)
			}
		}
		idle = false
	}
}

func (n *RemoteNode) socketWriteLoop(ctx context.Context) {
	defer n.wg.Done()
	n.log.Debug("socket-write: starting")
	for {
		batch, err := n.socketWriteQueue.Wait(ctx, buffers.PopAll)
		if err != nil {
			n.log.Debugf("socket-write: exiting: %v", err)
			return
		}
		for _, b := range batch {
			if _, err := n.conn.WriteToUDPAddrPort(b.Data(), n.addr); err != nil {
				n.dropped.Add(1)
				n.log.Warningf("socket-write: %v", seth.TransientIOErrorf("sendto %s: %w", n.addr, err))
			}
		}
		if err := n.encoder.FreeBatch(&batch); err != nil {
			n.log.Warningf("socket-write: free batch: %v", err)
		}
	}
}
