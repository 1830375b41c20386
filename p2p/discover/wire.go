package discover

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	metrics "github.com/rcrowley/go-metrics"
)

// MessageType is the one-byte discriminator that leads every packet (spec
// §4.1): PING, PONG, FIND_NODE, FOUND_NODES, ANNOUNCE_PEER, GET_PEERS, PEERS.
type MessageType byte

const (
	TypePing MessageType = iota
	TypePong
	TypeFindNode
	TypeFoundNodes
	TypeAnnouncePeer
	TypeGetPeers
	TypePeers
)

func (t MessageType) String() string {
	switch t {
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeFindNode:
		return "FIND_NODE"
	case TypeFoundNodes:
		return "FOUND_NODES"
	case TypeAnnouncePeer:
		return "ANNOUNCE_PEER"
	case TypeGetPeers:
		return "GET_PEERS"
	case TypePeers:
		return "PEERS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// prefixSize is len(type) + len(sender_id): the 33-byte common header.
const prefixSize = 1 + IDLength

// ipv4Size is the encoded width of an IPv4 address on the wire.
const ipv4Size = 4

// decode error counters, per spec §4.1 "counted in a per-kind metric".
var (
	metricBadType       = metrics.GetOrRegisterCounter("discover/decode/bad_type", metrics.DefaultRegistry)
	metricShortPacket   = metrics.GetOrRegisterCounter("discover/decode/short_packet", metrics.DefaultRegistry)
	metricCountOverflow = metrics.GetOrRegisterCounter("discover/decode/count_overflow", metrics.DefaultRegistry)
	metricTagMismatch   = metrics.GetOrRegisterCounter("discover/decode/tag_mismatch", metrics.DefaultRegistry)
)

var (
	// ErrPacketTooSmall is returned when a buffer is shorter than the
	// fixed header or body a given message type requires.
	ErrPacketTooSmall = errors.New("discover: packet too small")
	// ErrUnknownType is returned for a type byte outside the seven known
	// message kinds.
	ErrUnknownType = errors.New("discover: unknown message type")
	// ErrCountOverflow is returned when a declared element count implies a
	// body longer than the bytes actually remaining.
	ErrCountOverflow = errors.New("discover: declared count overflows packet")
)

// FindNodePayload is the FIND_NODE body: the target ID being searched for.
type FindNodePayload struct {
	Target NodeID
}

// FoundNode is one entry of a FOUND_NODES reply.
type FoundNode struct {
	ID   NodeID
	IP   net.IP // 4-byte IPv4
	Port uint16
}

// FoundNodesPayload is the FOUND_NODES body.
type FoundNodesPayload struct {
	Nodes []FoundNode
}

// AnnouncePeerPayload is the ANNOUNCE_PEER body.
type AnnouncePeerPayload struct {
	InfoHash Topic
	Port     uint16
}

// GetPeersPayload is the GET_PEERS body.
type GetPeersPayload struct {
	InfoHash Topic
}

// PeerAddr is one entry of a PEERS reply.
type PeerAddr struct {
	IP   net.IP // 4-byte IPv4
	Port uint16
}

// PeersPayload is the PEERS body.
type PeersPayload struct {
	Peers []PeerAddr
}

// Message is the decoded form of one packet: the common 33-byte prefix plus
// exactly one populated payload field, selected by Type.
type Message struct {
	Type     MessageType
	SenderID NodeID

	FindNode     *FindNodePayload
	FoundNodes   *FoundNodesPayload
	AnnouncePeer *AnnouncePeerPayload
	GetPeers     *GetPeersPayload
	Peers        *PeersPayload
}

// encodeBody appends the type-specific body (everything after the 33-byte
// prefix) to buf and returns the result.
func encodeBody(buf []byte, m *Message) ([]byte, error) {
	switch m.Type {
	case TypePing, TypePong:
		return buf, nil

	case TypeFindNode:
		if m.FindNode == nil {
			return nil, fmt.Errorf("discover: FIND_NODE message missing payload")
		}
		return append(buf, m.FindNode.Target[:]...), nil

	case TypeFoundNodes:
		if m.FoundNodes == nil {
			return nil, fmt.Errorf("discover: FOUND_NODES message missing payload")
		}
		if len(m.FoundNodes.Nodes) > BucketSize {
			return nil, fmt.Errorf("discover: FOUND_NODES count %d exceeds K=%d", len(m.FoundNodes.Nodes), BucketSize)
		}
		buf = append(buf, byte(len(m.FoundNodes.Nodes)))
		for _, n := range m.FoundNodes.Nodes {
			buf = append(buf, n.ID[:]...)
			buf = append(buf, ipv4Bytes(n.IP)...)
			buf = appendUint16(buf, n.Port)
		}
		return buf, nil

	case TypeAnnouncePeer:
		if m.AnnouncePeer == nil {
			return nil, fmt.Errorf("discover: ANNOUNCE_PEER message missing payload")
		}
		buf = append(buf, m.AnnouncePeer.InfoHash[:]...)
		buf = appendUint16(buf, m.AnnouncePeer.Port)
		return buf, nil

	case TypeGetPeers:
		if m.GetPeers == nil {
			return nil, fmt.Errorf("discover: GET_PEERS message missing payload")
		}
		return append(buf, m.GetPeers.InfoHash[:]...), nil

	case TypePeers:
		if m.Peers == nil {
			return nil, fmt.Errorf("discover: PEERS message missing payload")
		}
		if len(m.Peers.Peers) > BucketSize {
			return nil, fmt.Errorf("discover: PEERS count %d exceeds K=%d", len(m.Peers.Peers), BucketSize)
		}
		buf = append(buf, byte(len(m.Peers.Peers)))
		for _, p := range m.Peers.Peers {
			buf = append(buf, ipv4Bytes(p.IP)...)
			buf = appendUint16(buf, p.Port)
		}
		return buf, nil

	default:
		return nil, ErrUnknownType
	}
}

// EncodeMessage renders m as plaintext wire bytes: the 33-byte prefix
// followed by its type-specific body. Authenticated framing (when a
// network key is set) wraps this output; see crypto_frame.go.
func EncodeMessage(m *Message) ([]byte, error) {
	buf := make([]byte, 0, prefixSize+8)
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.SenderID[:]...)
	return encodeBody(buf, m)
}

// DecodeMessage parses plaintext wire bytes (after any authenticated frame
// has already been removed) into a Message. Any structural problem —
// truncation, an unknown type, or a declared count that doesn't fit the
// remaining bytes — is reported as an error and bumps the matching
// per-kind metric; callers must drop the packet silently on error (spec
// §4.1, §7).
func DecodeMessage(buf []byte) (*Message, error) {
	if len(buf) < prefixSize {
		metricShortPacket.Inc(1)
		return nil, ErrPacketTooSmall
	}
	m := &Message{Type: MessageType(buf[0])}
	copy(m.SenderID[:], buf[1:prefixSize])
	body := buf[prefixSize:]

	switch m.Type {
	case TypePing, TypePong:
		return m, nil

	case TypeFindNode:
		if len(body) < IDLength {
			metricShortPacket.Inc(1)
			return nil, ErrPacketTooSmall
		}
		p := &FindNodePayload{}
		copy(p.Target[:], body[:IDLength])
		m.FindNode = p
		return m, nil

	case TypeFoundNodes:
		if len(body) < 1 {
			metricShortPacket.Inc(1)
			return nil, ErrPacketTooSmall
		}
		count := int(body[0])
		if count > BucketSize {
			metricCountOverflow.Inc(1)
			return nil, ErrCountOverflow
		}
		rest := body[1:]
		entrySize := IDLength + ipv4Size + 2
		if len(rest) < count*entrySize {
			metricCountOverflow.Inc(1)
			return nil, ErrCountOverflow
		}
		nodes := make([]FoundNode, count)
		for i := 0; i < count; i++ {
			off := i * entrySize
			var id NodeID
			copy(id[:], rest[off:off+IDLength])
			ip := make(net.IP, ipv4Size)
			copy(ip, rest[off+IDLength:off+IDLength+ipv4Size])
			port := binary.BigEndian.Uint16(rest[off+IDLength+ipv4Size : off+entrySize])
			nodes[i] = FoundNode{ID: id, IP: ip, Port: port}
		}
		m.FoundNodes = &FoundNodesPayload{Nodes: nodes}
		return m, nil

	case TypeAnnouncePeer:
		if len(body) < IDLength+2 {
			metricShortPacket.Inc(1)
			return nil, ErrPacketTooSmall
		}
		p := &AnnouncePeerPayload{}
		copy(p.InfoHash[:], body[:IDLength])
		p.Port = binary.BigEndian.Uint16(body[IDLength : IDLength+2])
		m.AnnouncePeer = p
		return m, nil

	case TypeGetPeers:
		if len(body) < IDLength {
			metricShortPacket.Inc(1)
			return nil, ErrPacketTooSmall
		}
		p := &GetPeersPayload{}
		copy(p.InfoHash[:], body[:IDLength])
		m.GetPeers = p
		return m, nil

	case TypePeers:
		if len(body) < 1 {
			metricShortPacket.Inc(1)
			return nil, ErrPacketTooSmall
		}
		count := int(body[0])
		if count > BucketSize {
			metricCountOverflow.Inc(1)
			return nil, ErrCountOverflow
		}
		rest := body[1:]
		entrySize := ipv4Size + 2
		if len(rest) < count*entrySize {
			metricCountOverflow.Inc(1)
			return nil, ErrCountOverflow
		}
		peers := make([]PeerAddr, count)
		for i := 0; i < count; i++ {
			off := i * entrySize
			ip := make(net.IP, ipv4Size)
			copy(ip, rest[off:off+ipv4Size])
			port := binary.BigEndian.Uint16(rest[off+ipv4Size : off+entrySize])
			peers[i] = PeerAddr{IP: ip, Port: port}
		}
		m.Peers = &PeersPayload{Peers: peers}
		return m, nil

	default:
		metricBadType.Inc(1)
		return nil, ErrUnknownType
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func ipv4Bytes(ip net.IP) []byte {
	v4 := ip.To4()
	if v4 == nil {
		return make([]byte, ipv4Size)
	}
	return v4
}
