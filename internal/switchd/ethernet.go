package switchd

import (
	"github.com/superethd/seth/internal/fdb"
)

const (
	ethernetMinFrameSize = 14
	broadcastByte        = 0xff
)

// ethernetHeader is the subset of an Ethernet frame the switch needs to make
// a forwarding decision: source and destination MAC, read in place without
// copying the frame, unlike the teacher's allocating layer2.ParseFrame.
type ethernetHeader struct {
	dest fdb.MAC
	src  fdb.MAC
}

func parseEthernetHeader(data []byte) (ethernetHeader, bool) {
	if len(data) < ethernetMinFrameSize {
		return ethernetHeader{}, false
	}
	var h ethernetHeader
	copy(h.dest[:], data[0:6])
	copy(h.src[:], data[6:12])
	return h, true
}

// isMulticast reports whether a MAC has the multicast/broadcast bit set
// (the low bit of the first octet), per standard Ethernet addressing.
func isMulticast(mac fdb.MAC) bool {
	return mac[0]&0x01 != 0
}

func isBroadcast(mac fdb.MAC) bool {
	for _, b := range mac {
		if b != broadcastByte {
			return false
		}
	}
	return true
}
