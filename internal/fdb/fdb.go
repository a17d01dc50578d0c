// Package fdb implements the forwarding database: the MAC-address-to-peer
// table a PacketSwitch consults to decide whether a unicast frame should go
// out to a specific RemoteNode or is destined for the local TAP interface.
package fdb

import (
	"net"
	"sync"
	"time"

	"github.com/superethd/seth/internal/logging"
)

// MAC is a 6-byte Ethernet hardware address used as the FDB's key.
type MAC [6]byte

// String renders the MAC in the usual colon-hex form.
func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// Peer is the subset of RemoteNode the FDB needs: something a frame can be
// forwarded to, identified for logging purposes. A nil Peer on an Entry
// means the MAC lives on the local TAP interface.
type Peer interface {
	// String identifies the peer for logging, typically its UDP address.
	String() string
}

// Entry is one forwarding database record: a MAC address, the peer it was
// last seen behind (or nil for local), and when it was last refreshed.
type Entry struct {
	mac      MAC
	dest     Peer
	lastSeen time.Time
}

// MAC returns the entry's key.
func (e *Entry) MAC() MAC { return e.mac }

// Destination returns the peer this MAC is reachable through, or nil if it
// is local.
func (e *Entry) Destination() Peer { return e.dest }

// IsLocal reports whether this MAC belongs to the local TAP interface.
func (e *Entry) IsLocal() bool { return e.dest == nil }

// LastSeen returns when this entry was last refreshed.
func (e *Entry) LastSeen() time.Time { return e.lastSeen }

// FDB is the forwarding database, safe for concurrent use by the TAP-read
// and TAP-write tasks that populate it and the tasks that look it up for
// every outgoing frame.
type FDB struct {
	mu    sync.RWMutex
	table map[MAC]*Entry
	log   *logging.Logger
}

// New creates an empty forwarding database.
func New(log *logging.Logger) *FDB {
	return &FDB{
		table: make(map[MAC]*Entry),
		log:   log,
	}
}

// Add records mac as reachable via dest, returning the existing entry
// unchanged if one is already present — callers wanting to refresh an
// entry's timestamp should call Touch as well.
func (f *FDB) Add(mac MAC, dest Peer) *Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.table[mac]; ok {
		return e
	}
	e := &Entry{mac: mac, dest: dest, lastSeen: time.Now()}
	f.table[mac] = e
	return e
}

// Touch updates mac's last-seen time to now, adding it (as local, if dest
// is nil) if it is not already present, and updates its destination if the
// peer has changed.
func (f *FDB) Touch(mac MAC, dest Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.table[mac]
	if !ok {
		f.table[mac] = &Entry{mac: mac, dest: dest, lastSeen: time.Now()}
		return
	}
	e.dest = dest
	e.lastSeen = time.Now()
}

// Get returns the entry for mac, or nil if it is not present.
func (f *FDB) Get(mac MAC) *Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.table[mac]
}

// Expire removes every entry whose last-seen time is older than maxAge.
func (f *FDB) Expire(maxAge time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	for mac, e := range f.table {
		if now.Sub(e.lastSeen) > maxAge {
			if f.log != nil {
				f.log.Debugf("fdb: expired entry %s", mac)
			}
			delete(f.table, mac)
		}
	}
}

// Dump logs the contents of the forwarding database at debug level.
func (f *FDB) Dump() {
	if f.log == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := time.Now()
	f.log.Debug("fdb: dumping table")
	for mac, e := range f.table {
		dest := "LOCAL"
		if !e.IsLocal() {
			dest = e.Destination().String()
		}
		f.log.Debugf("  %s => %s (last seen %s ago)", mac, dest, now.Sub(e.lastSeen).Round(time.Second))
	}
}

// Count returns the number of entries currently in the database.
func (f *FDB) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.table)
}
