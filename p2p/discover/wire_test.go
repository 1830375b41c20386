package discover

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePing(t *testing.T) {
	var sender NodeID
	sender[0] = 0xaa
	msg := &Message{Type: TypePing, SenderID: sender}

	raw, err := EncodeMessage(msg)
	require.NoError(t, err)
	assert.Len(t, raw, prefixSize)

	got, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, TypePing, got.Type)
	assert.Equal(t, sender, got.SenderID)
}

func TestEncodeDecodeFindNode(t *testing.T) {
	var target NodeID
	target[5] = 0x11
	msg := &Message{Type: TypeFindNode, SenderID: NodeID{1}, FindNode: &FindNodePayload{Target: target}}

	raw, err := EncodeMessage(msg)
	require.NoError(t, err)

	got, err := DecodeMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, got.FindNode)
	assert.Equal(t, target, got.FindNode.Target)
}

func TestEncodeDecodeFoundNodes(t *testing.T) {
	nodes := []FoundNode{
		{ID: NodeID{1}, IP: net.IPv4(10, 0, 0, 1), Port: 30300},
		{ID: NodeID{2}, IP: net.IPv4(10, 0, 0, 2), Port: 30301},
	}
	msg := &Message{Type: TypeFoundNodes, SenderID: NodeID{9}, FoundNodes: &FoundNodesPayload{Nodes: nodes}}

	raw, err := EncodeMessage(msg)
	require.NoError(t, err)

	got, err := DecodeMessage(raw)
	require.NoError(t, err)
	require.Len(t, got.FoundNodes.Nodes, 2)
	assert.Equal(t, nodes[0].ID, got.FoundNodes.Nodes[0].ID)
	assert.True(t, nodes[1].IP.Equal(got.FoundNodes.Nodes[1].IP))
	assert.Equal(t, nodes[1].Port, got.FoundNodes.Nodes[1].Port)
}

func TestEncodeFoundNodesRejectsOverflow(t *testing.T) {
	nodes := make([]FoundNode, BucketSize+1)
	msg := &Message{Type: TypeFoundNodes, SenderID: NodeID{9}, FoundNodes: &FoundNodesPayload{Nodes: nodes}}
	_, err := EncodeMessage(msg)
	assert.Error(t, err)
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	_, err := DecodeMessage([]byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrPacketTooSmall)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	raw := make([]byte, prefixSize)
	raw[0] = 0xfe
	_, err := DecodeMessage(raw)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeRejectsCountOverflow(t *testing.T) {
	raw := make([]byte, prefixSize+1)
	raw[0] = byte(TypeFoundNodes)
	raw[prefixSize] = BucketSize + 1
	_, err := DecodeMessage(raw)
	assert.ErrorIs(t, err, ErrCountOverflow)
}

func TestEncodeDecodeAnnouncePeer(t *testing.T) {
	var hash Topic
	hash[0] = 0x77
	msg := &Message{
		Type:         TypeAnnouncePeer,
		SenderID:     NodeID{3},
		AnnouncePeer: &AnnouncePeerPayload{InfoHash: hash, Port: 6881},
	}
	raw, err := EncodeMessage(msg)
	require.NoError(t, err)
	got, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, hash, got.AnnouncePeer.InfoHash)
	assert.Equal(t, uint16(6881), got.AnnouncePeer.Port)
}

func TestEncodeDecodePeers(t *testing.T) {
	peers := []PeerAddr{{IP: net.IPv4(127, 0, 0, 1), Port: 1}}
	msg := &Message{Type: TypePeers, SenderID: NodeID{4}, Peers: &PeersPayload{Peers: peers}}
	raw, err := EncodeMessage(msg)
	require.NoError(t, err)
	got, err := DecodeMessage(raw)
	require.NoError(t, err)
	require.Len(t, got.Peers.Peers, 1)
	assert.True(t, peers[0].IP.Equal(got.Peers.Peers[0].IP))
}
