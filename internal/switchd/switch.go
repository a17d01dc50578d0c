// Package switchd implements PacketSwitch: the component that owns the TAP
// interface, the UDP socket, the forwarding database, and the per-peer
// RemoteNodes, and runs the TAP-read, socket-read, TAP-write, and FDB
// maintenance goroutines that move frames between them.
package switchd

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/superethd/seth/internal/buffers"
	"github.com/superethd/seth/internal/compress"
	"github.com/superethd/seth/internal/fdb"
	"github.com/superethd/seth/internal/logging"
	"github.com/superethd/seth/internal/node"
	"github.com/superethd/seth/internal/seth"
	"github.com/superethd/seth/internal/tap"
	"github.com/superethd/seth/internal/wire"
)

// Bounds on MTU and transport segment size, and the sizing constants for
// buffer pools and batched socket reads.
const (
	MinMTU = 1200
	MaxMTU = 9198

	MinTXSize = 1200
	MaxTXSize = 9218

	// BufferCountPerPeer is how many buffers each per-direction pool is
	// sized for, scaled by the number of configured peers.
	BufferCountPerPeer = 5000

	// MaxBatchMessages is how many datagrams a single socket read batches
	// together, mirroring the recvmmsg batch size.
	MaxBatchMessages = 256

	ethernetHeaderSize = 14
	dot1adOverhead     = 8

	// socketBufferMultiplier sizes SO_SNDBUF/SO_RCVBUF as a multiple of
	// l2mtu, matching the original's fixed 8192x headroom.
	socketBufferMultiplier = 8192

	fdbExpireInterval = 10 * time.Second
	fdbExpireAge      = 300 * time.Second

	// statsReportInterval is how often statsReporterLoop logs aggregate
	// traffic counters, mirroring the original daemon's 60-second summary.
	statsReportInterval = 60 * time.Second
)

// l2MTUFromMTU returns the maximum Ethernet frame size the switch must
// budget for, given the TAP interface's MTU.
func l2MTUFromMTU(mtu uint16) uint16 {
	return mtu + ethernetHeaderSize + dot1adOverhead
}

// PeerConfig describes one configured tunnel peer. Channel is carried
// through to the wire header but, with multi-channel multiplexing out of
// scope, every configured peer uses channel 0.
type PeerConfig struct {
	Addr        netip.AddrPort
	Channel     uint8
	Compression wire.CompressionFormat
}

// Config configures a PacketSwitch.
type Config struct {
	InterfaceName string
	MTU           uint16
	TXSize        uint16
	ListenPort    uint16
	Peers         []PeerConfig

	Log *logging.Logger
}

// PacketSwitch wires together the TAP interface, UDP socket, forwarding
// database, and the RemoteNode for each configured peer.
type PacketSwitch struct {
	mtu   uint16
	l2mtu uint16

	tapDev *tap.Device
	conn   *net.UDPConn
	pconn  *ipv6.PacketConn

	fdb   *fdb.FDB
	nodes map[netip.Addr]*node.RemoteNode

	availableRXPool *buffers.Pool
	availableTXPool *buffers.Pool
	tapWritePool    *buffers.Pool

	log *logging.Logger

	// drops counts frames and datagrams the switch's own loops rejected
	// outright: malformed Ethernet headers, multicast sources, FDB misses,
	// and datagrams from unconfigured peers.
	drops atomic.Uint64

	// errCh carries fatal, non-data-path errors (currently: TAP write
	// failure) out to the caller of Start. Buffered so the reporting
	// goroutine never blocks on it.
	errCh chan error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StatsSnapshot is a point-in-time aggregate of every RemoteNode's traffic
// counters plus the frames the switch itself dropped.
type StatsSnapshot struct {
	FramesSent        uint64
	FramesReceived    uint64
	BytesSent         uint64
	BytesReceived     uint64
	DroppedFrames     uint64
	SequenceAnomalies uint64
}

// Stats aggregates traffic counters across every configured RemoteNode.
func (s *PacketSwitch) Stats() StatsSnapshot {
	var st StatsSnapshot
	for _, n := range s.nodes {
		ns := n.Stats()
		st.FramesSent += ns.FramesSent
		st.FramesReceived += ns.FramesReceived
		st.BytesSent += ns.BytesSent
		st.BytesReceived += ns.BytesReceived
		st.DroppedFrames += ns.DroppedFrames
		st.SequenceAnomalies += ns.SequenceAnomalies
	}
	st.DroppedFrames += s.drops.Load()
	return st
}

// New validates cfg, creates the TAP interface and UDP socket, and builds a
// RemoteNode for every configured peer.
func New(ctx context.Context, cfg Config) (*PacketSwitch, error) {
	if cfg.MTU > MaxMTU {
		return nil, seth.ConfigErrorf("maximum MTU is %d", MaxMTU)
	}
	if cfg.MTU < MinMTU {
		return nil, seth.ConfigErrorf("minimum MTU is %d", MinMTU)
	}
	if cfg.TXSize > MaxTXSize {
		return nil, seth.ConfigErrorf("maximum tx_size is %d", MaxTXSize)
	}
	if cfg.TXSize < MinTXSize {
		return nil, seth.ConfigErrorf("minimum tx_size is %d", MinTXSize)
	}
	if cfg.TXSize > cfg.MTU {
		return nil, seth.ConfigErrorf("tx_size %d cannot be greater than MTU %d", cfg.TXSize, cfg.MTU)
	}
	if len(cfg.Peers) == 0 {
		return nil, seth.ConfigErrorf("at least one peer must be configured")
	}

	tapDev, err := tap.Open(cfg.InterfaceName, int(cfg.MTU))
	if err != nil {
		return nil, seth.SetupErrorf("open tap device: %w", err)
	}

	l2mtu := l2MTUFromMTU(cfg.MTU)

	conn, pconn, err := listenUDP(cfg.ListenPort, l2mtu)
	if err != nil {
		tapDev.Close()
		return nil, seth.SetupErrorf("listen udp: %w", err)
	}

	bufferSize := int(l2mtu) + int(l2mtu)/10
	peerCount := len(cfg.Peers)

	sw := &PacketSwitch{
		mtu:             cfg.MTU,
		l2mtu:           l2mtu,
		tapDev:          tapDev,
		conn:            conn,
		pconn:           pconn,
		fdb:             fdb.New(cfg.Log.WithComponent("fdb")),
		nodes:           make(map[netip.Addr]*node.RemoteNode),
		availableRXPool: buffers.NewPrefilledPool(bufferSize, BufferCountPerPeer*peerCount),
		availableTXPool: buffers.NewPrefilledPool(bufferSize, BufferCountPerPeer*peerCount),
		tapWritePool:    buffers.NewPool(bufferSize, BufferCountPerPeer*peerCount),
		log:             cfg.Log,
		errCh:           make(chan error, 1),
	}

	for _, p := range cfg.Peers {
		l4mtu := l4MTUForAddr(cfg.TXSize, p.Addr.Addr())

		var compressor compress.Compressor
		decompressors := make(map[wire.CompressionFormat]compress.Compressor)
		switch p.Compression {
		case wire.CompressionLZ4:
			c := compress.NewLZ4Compressor()
			compressor = c
			decompressors[wire.CompressionLZ4] = c
		case wire.CompressionZSTD:
			c, err := compress.NewZSTDCompressor()
			if err != nil {
				return nil, seth.SetupErrorf("new zstd compressor for %s: %w", p.Addr, err)
			}
			compressor = c
			decompressors[wire.CompressionZSTD] = c
		}

		n, err := node.New(ctx, node.Config{
			Addr:          p.Addr,
			Channel:       p.Channel,
			L2MTU:         l2mtu,
			L4MTU:         l4mtu,
			TXPool:        sw.availableTXPool,
			RXPool:        sw.availableRXPool,
			TAPWritePool:  sw.tapWritePool,
			BufferSize:    bufferSize,
			QueueDepth:    BufferCountPerPeer,
			Compressor:    compressor,
			Decompressors: decompressors,
			Conn:          conn,
			Log:           sw.log,
		})
		if err != nil {
			return nil, seth.SetupErrorf("new remote node %s: %w", p.Addr, err)
		}
		sw.nodes[p.Addr.Addr()] = n
	}

	return sw, nil
}

// l4MTUForAddr computes the usable transport payload size for a given peer
// address family, subtracting the IP and UDP header overhead from txSize.
func l4MTUForAddr(txSize uint16, addr netip.Addr) uint16 {
	l4mtu := txSize
	if addr.Is4() {
		l4mtu -= 20 // IPv4 header
	} else {
		l4mtu -= 40 // IPv6 header
	}
	l4mtu -= 8 // UDP header
	return l4mtu
}

// listenUDP binds a dual-stack IPv6 socket (IPV6_V6ONLY disabled so IPv4
// peers connect in via v4-mapped addresses too) and sizes its send/receive
// buffers to l2mtu*socketBufferMultiplier, mirroring the original's
// setsockopt sequence.
func listenUDP(port uint16, l2mtu uint16) (*net.UDPConn, *ipv6.PacketConn, error) {
	sockBuf := int(l2mtu) * socketBufferMultiplier

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sockBuf)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, sockBuf)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf("[::]:%d", port))
	if err != nil {
		return nil, nil, err
	}
	conn := pc.(*net.UDPConn)
	return conn, ipv6.NewPacketConn(conn), nil
}

// Start launches every RemoteNode plus the switch's own TAP-read,
// socket-read, TAP-write, FDB maintenance, and stats-reporter goroutines.
// The TAP interface is already up: New brings it up when it opens it.
func (s *PacketSwitch) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, n := range s.nodes {
		n.Start(ctx)
	}

	s.wg.Add(5)
	go s.tapReadLoop(ctx)
	go s.socketReadLoop(ctx)
	go s.tapWriteLoop(ctx)
	go s.fdbMaintenanceLoop(ctx)
	go s.statsReporterLoop(ctx)
}

// Stop signals every goroutine (the switch's own and every RemoteNode's) to
// exit and waits for them to finish, then releases the TAP device and
// socket.
func (s *PacketSwitch) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	for _, n := range s.nodes {
		n.Stop()
	}
	s.conn.Close()
	s.tapDev.Close()
}

// Errors delivers fatal errors that should terminate the process, such as a
// TAP write failure. The caller of Start should select on this alongside its
// own shutdown signal.
func (s *PacketSwitch) Errors() <-chan error { return s.errCh }

// FDB returns the switch's forwarding database, exposed for diagnostics.
func (s *PacketSwitch) FDB() *fdb.FDB { return s.fdb }

// L2MTU returns the maximum Ethernet frame size the switch budgets for.
func (s *PacketSwitch) L2MTU() uint16 { return s.l2mtu }
