package switchd

import (
	"context"
	"net/netip"
	"time"

	"golang.org/x/net/ipv6"

	"github.com/superethd/seth/internal/buffers"
	"github.com/superethd/seth/internal/node"
	"github.com/superethd/seth/internal/seth"
	"github.com/superethd/seth/internal/wire"
)

// tapReadLoop reads Ethernet frames off the TAP device and dispatches each
// to the encoder queue of the RemoteNode(s) it should be forwarded to,
// learning the frame's source MAC as local along the way.
func (s *PacketSwitch) tapReadLoop(ctx context.Context) {
	defer s.wg.Done()
	s.log.Debug("tap-read: starting")

	for {
		if ctx.Err() != nil {
			return
		}

		b, err := s.availableTXPool.PopWait(ctx)
		if err != nil {
			s.log.Debugf("tap-read: exiting: %v", err)
			return
		}

		n, err := s.tapDev.Read(b.Bytes())
		if err != nil {
			s.availableTXPool.Push(b)
			if ctx.Err() != nil {
				return
			}
			s.log.Warningf("tap-read: read: %v", err)
			continue
		}
		if err := b.SetUsed(n); err != nil {
			s.availableTXPool.Push(b)
			s.log.Warningf("tap-read: %v", err)
			continue
		}

		hdr, ok := parseEthernetHeader(b.Data())
		if !ok {
			s.availableTXPool.Push(b)
			s.drops.Add(1)
			continue
		}
		if isMulticast(hdr.src) {
			s.availableTXPool.Push(b)
			s.drops.Add(1)
			s.log.Noticef("tap-read: dropping frame with multicast source %s", hdr.src)
			continue
		}
		s.fdb.Touch(hdr.src, nil)

		if isBroadcast(hdr.dest) || isMulticast(hdr.dest) {
			s.floodFrame(b)
			continue
		}

		entry := s.fdb.Get(hdr.dest)
		if entry == nil || entry.IsLocal() {
			s.availableTXPool.Push(b)
			s.drops.Add(1)
			continue
		}
		dest, ok := entry.Destination().(*node.RemoteNode)
		if !ok {
			s.availableTXPool.Push(b)
			s.drops.Add(1)
			continue
		}
		if err := dest.EncoderQueue().Push(b); err != nil {
			s.log.Warningf("tap-read: enqueue to %s: %v", dest.Addr(), err)
		}
	}
}

// floodFrame delivers a copy of b to every RemoteNode's encoder queue,
// reusing the original buffer for the last recipient so only n-1 copies are
// made for n peers.
func (s *PacketSwitch) floodFrame(b *buffers.Buffer) {
	if len(s.nodes) == 0 {
		s.availableTXPool.Push(b)
		return
	}

	i := 0
	for _, n := range s.nodes {
		i++
		if i == len(s.nodes) {
			if err := n.EncoderQueue().Push(b); err != nil {
				s.log.Warningf("tap-read: flood enqueue to %s: %v", n.Addr(), err)
			}
			return
		}

		cp, err := s.availableTXPool.Pop()
		if err != nil {
			cp, err = s.availableTXPool.PopWait(context.Background())
			if err != nil {
				s.log.Warningf("tap-read: flood copy buffer: %v", err)
				continue
			}
		}
		cp.Clear()
		cp.Append(b.Data(), b.Used())
		if err := n.EncoderQueue().Push(cp); err != nil {
			s.log.Warningf("tap-read: flood enqueue to %s: %v", n.Addr(), err)
		}
	}
}

// socketReadLoop reads inbound datagrams off the UDP socket in batches of
// up to MaxBatchMessages (mirroring the original's recvmmsg batching) and
// routes each to the decoder queue of the RemoteNode it arrived from,
// dropping datagrams from unrecognized peers.
func (s *PacketSwitch) socketReadLoop(ctx context.Context) {
	defer s.wg.Done()
	s.log.Debug("socket-read: starting")

	msgs := make([]ipv6.Message, MaxBatchMessages)
	claimed := make([]*buffers.Buffer, MaxBatchMessages)

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := s.fillReadBatch(ctx, msgs, claimed)
		if err != nil {
			s.log.Debugf("socket-read: exiting: %v", err)
			return
		}

		count, err := s.pconn.ReadBatch(msgs[:n], 0)
		if err != nil {
			for _, b := range claimed[:n] {
				s.availableRXPool.Push(b)
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warningf("socket-read: read batch: %v", err)
			continue
		}

		for i := 0; i < count; i++ {
			b := claimed[i]
			if err := b.SetUsed(msgs[i].N); err != nil {
				s.availableRXPool.Push(b)
				continue
			}
			addr, ok := addrPortFromNetAddr(msgs[i].Addr)
			if !ok {
				s.availableRXPool.Push(b)
				continue
			}
			dest, ok := s.nodes[addr.Addr()]
			if !ok {
				s.availableRXPool.Push(b)
				s.drops.Add(1)
				s.log.Noticef("socket-read: datagram from unconfigured peer %s", addr)
				continue
			}
			b.PeerAddr = addr.Addr()
			if b.Used() >= wire.OuterHeaderSize {
				b.SeqKey = wire.DecodeOuterHeader(b.Bytes()).Sequence
			}
			if err := dest.DecoderQueue().Push(b); err != nil {
				s.log.Warningf("socket-read: enqueue from %s: %v", addr, err)
			}
		}
		for i := count; i < n; i++ {
			s.availableRXPool.Push(claimed[i])
		}
	}
}

// fillReadBatch claims up to len(msgs) buffers from the available pool
// (blocking for the first one) and points each Message's buffer at one,
// returning how many were claimed.
func (s *PacketSwitch) fillReadBatch(ctx context.Context, msgs []ipv6.Message, claimed []*buffers.Buffer) (int, error) {
	first, err := s.availableRXPool.PopWait(ctx)
	if err != nil {
		return 0, err
	}
	claimed[0] = first
	msgs[0].Buffers = [][]byte{first.Bytes()}

	n := 1
	for n < len(msgs) {
		b, err := s.availableRXPool.Pop()
		if err != nil {
			break
		}
		claimed[n] = b
		msgs[n].Buffers = [][]byte{b.Bytes()}
		n++
	}
	return n, nil
}

// addrPortFromNetAddr parses the address a batched read reported the
// datagram came from, unmapping IPv4-in-IPv6 addresses so they compare
// equal to the plain IPv4 keys peers are configured with.
func addrPortFromNetAddr(a interface{ String() string }) (netip.AddrPort, bool) {
	addr, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), true
}

// tapWriteLoop drains decoded frames delivered by every RemoteNode's
// decoder and writes them out the TAP device, learning each frame's source
// MAC against the peer it arrived from.
func (s *PacketSwitch) tapWriteLoop(ctx context.Context) {
	defer s.wg.Done()
	s.log.Debug("tap-write: starting")

	for {
		batch, err := s.tapWritePool.Wait(ctx, buffers.PopAll)
		if err != nil {
			s.log.Debugf("tap-write: exiting: %v", err)
			return
		}

		for _, b := range batch {
			hdr, ok := parseEthernetHeader(b.Data())
			if !ok {
				s.availableRXPool.Push(b)
				s.drops.Add(1)
				continue
			}
			if isMulticast(hdr.src) {
				s.availableRXPool.Push(b)
				s.drops.Add(1)
				s.log.Noticef("tap-write: dropping frame with multicast source %s", hdr.src)
				continue
			}

			if peer, ok := s.nodes[b.PeerAddr]; ok {
				s.fdb.Touch(hdr.src, peer)
			}

			if _, err := s.tapDev.Write(b.Data()); err != nil {
				s.availableRXPool.Push(b)
				fatal := seth.FatalIOErrorf("tap-write: write: %w", err)
				s.log.Errorf("tap-write: %v", fatal)
				select {
				case s.errCh <- fatal:
				default:
				}
				return
			}
			s.availableRXPool.Push(b)
		}
	}
}

// fdbMaintenanceLoop periodically logs the forwarding database and expires
// stale entries, mirroring the original's dump-then-expire-then-sleep cycle.
func (s *PacketSwitch) fdbMaintenanceLoop(ctx context.Context) {
	defer s.wg.Done()
	s.log.Debug("fdb-maintenance: starting")

	ticker := time.NewTicker(fdbExpireInterval)
	defer ticker.Stop()

	for {
		s.fdb.Dump()
		s.fdb.Expire(fdbExpireAge)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// statsReporterLoop logs aggregate traffic counters every statsReportInterval,
// mirroring the original daemon's periodic stats summary.
func (s *PacketSwitch) statsReporterLoop(ctx context.Context) {
	defer s.wg.Done()
	s.log.Debug("stats-reporter: starting")

	ticker := time.NewTicker(statsReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := s.Stats()
		s.log.Noticef(
			"stats: sent=%d frames (%d bytes), recv=%d frames (%d bytes), dropped=%d, sequence_anomalies=%d",
			st.FramesSent, st.BytesSent, st.FramesReceived, st.BytesReceived, st.DroppedFrames, st.SequenceAnomalies,
		)
	}
}
