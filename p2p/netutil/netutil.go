// Package netutil provides small IP-classification helpers used by the
// discovery UDP reactor: filtering relayed/unroutable addresses out of
// FOUND_NODES replies, recognizing transient socket errors, and an
// allow-list for restricting which peer addresses are accepted.
package netutil

import (
	"errors"
	"net"
)

// ErrUnspecified is returned when a candidate IP is the unspecified
// address (0.0.0.0 or ::) and therefore cannot be relayed to a peer.
var ErrUnspecified = errors.New("netutil: unspecified address")

// ErrLoopbackMismatch is returned when a non-loopback sender reports a
// loopback address as a contact's address — this would make the contact
// unreachable for any other peer and is rejected to avoid poisoning
// neighbor peers' routing tables.
var ErrLoopbackMismatch = errors.New("netutil: loopback address from non-loopback sender")

// CheckRelayIP validates that an IP address reported by `sender` (a node
// that is itself reachable at `sender`) is plausible to relay onward to
// other peers — e.g. as an entry in a FOUND_NODES/PEERS reply.
func CheckRelayIP(sender, addr net.IP) error {
	if len(addr) == 0 || addr.IsUnspecified() {
		return ErrUnspecified
	}
	if addr.IsLoopback() && !sender.IsLoopback() {
		return ErrLoopbackMismatch
	}
	return nil
}

// IsTemporaryError reports whether err is a transient network error that
// should not terminate the reactor's read loop.
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Netlist is a CIDR allow-list. A nil *Netlist matches every address (no
// restriction configured); this mirrors the teacher's netrestrict field,
// which is optional.
type Netlist struct {
	nets []*net.IPNet
}

// ParseNetlist parses a list of CIDR strings into a Netlist.
func ParseNetlist(cidrs ...string) (*Netlist, error) {
	nl := &Netlist{}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nl.nets = append(nl.nets, n)
	}
	return nl, nil
}

// Contains reports whether ip matches any network in the list. A nil
// receiver contains everything.
func (nl *Netlist) Contains(ip net.IP) bool {
	if nl == nil || len(nl.nets) == 0 {
		return true
	}
	for _, n := range nl.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
