// Package discover implements the Kademlia-style UDP discovery protocol
// that underlies a swarm node: node identity, the XOR routing table, the
// wire codec, the UDP reactor, the protocol handler and the iterative
// lookup driver.
package discover

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// IDLength is the width, in bytes, of a NodeID and of a topic/info_hash.
const IDLength = 32

// NodeID is an opaque 256-bit identifier. Unlike the teacher protocol's
// ECDSA-pubkey-derived IDs, NodeID here carries no cryptographic meaning by
// itself: it is drawn uniformly at random at creation time.
type NodeID [IDLength]byte

// String renders the ID as a lowercase hex string.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero ID.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// RandomNodeID draws a cryptographically strong random 256-bit ID.
func RandomNodeID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return NodeID{}, fmt.Errorf("discover: generate node id: %w", err)
	}
	return id, nil
}

// Topic is the 32-byte opaque identifier under which peers announce and
// discover each other (spec §3 "TopicRecord", §6 "info_hash").
type Topic [IDLength]byte

// String renders the topic as a lowercase hex string.
func (t Topic) String() string {
	return hex.EncodeToString(t[:])
}

// RequestToken is the 64-bit correlator used to match an outbound RPC to
// its eventual reply in the reactor's pending table.
type RequestToken uint64

// NewRequestToken draws a cryptographically strong random 64-bit token.
func NewRequestToken() (RequestToken, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("discover: generate request token: %w", err)
	}
	return RequestToken(binary.BigEndian.Uint64(b[:])), nil
}

// NewNonce draws the 12-byte random nonce prepended to authenticated frames.
func NewNonce() ([12]byte, error) {
	var n [12]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("discover: generate nonce: %w", err)
	}
	return n, nil
}
