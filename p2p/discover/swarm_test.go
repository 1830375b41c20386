package discover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := CreateSwarm("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func TestPingPongRoundTrip(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	err := a.Ping(b.LocalAddr().IP.String(), uint16(b.LocalAddr().Port))
	assert.NoError(t, err)
}

func TestPingUnreachablePeerTimesOut(t *testing.T) {
	a := newTestNode(t)
	err := a.Ping("127.0.0.1", 1) // nothing listening on port 1
	assert.Error(t, err)
}

func TestFindNodeEchoesClosest(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	// seed b's table with a third contact so FIND_NODE has something to
	// return besides the requester itself.
	third := newTestContact(0x42, 9999)
	b.Table.Insert(third)

	nodes, err := a.FindNode(b.LocalAddr().IP.String(), uint16(b.LocalAddr().Port), NodeID{})
	require.NoError(t, err)

	var found bool
	for _, n := range nodes {
		if n.ID == third.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnnounceThenGetPeers(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	var topic Topic
	topic[0] = 0x55

	err := a.AnnouncePeer(b.LocalAddr().IP.String(), uint16(b.LocalAddr().Port), topic, 4000)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // let b's reactor process the datagram

	peers, err := a.GetPeers(b.LocalAddr().IP.String(), uint16(b.LocalAddr().Port), topic)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, uint16(4000), peers[0].Port)
}

func TestNetworkKeyPartitionsOverlays(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	var key [NetworkKeySize]byte
	key[0] = 0x01
	a.SetNetworkKey(&key)

	err := a.Ping(b.LocalAddr().IP.String(), uint16(b.LocalAddr().Port))
	assert.Error(t, err, "keyed node should not get a plaintext reply it can understand")
}

func TestNetworkKeyMatchedPeersCommunicate(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	var key [NetworkKeySize]byte
	key[0] = 0x02
	a.SetNetworkKey(&key)
	b.SetNetworkKey(&key)

	err := a.Ping(b.LocalAddr().IP.String(), uint16(b.LocalAddr().Port))
	assert.NoError(t, err)
}

func TestBootstrapPopulatesTable(t *testing.T) {
	seed := newTestNode(t)
	joiner := newTestNode(t)

	addr := seed.LocalAddr().String()
	err := joiner.Bootstrap(addr)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, joiner.Table.Size(), 1)
}

func TestLookupConverges(t *testing.T) {
	const fabricSize = 12
	nodes := make([]*Node, fabricSize)
	for i := range nodes {
		nodes[i] = newTestNode(t)
	}
	// connect every node to the first, then bootstrap each of the rest
	// off node 0 so their tables cross-pollinate.
	for i := 1; i < fabricSize; i++ {
		addr := nodes[0].LocalAddr().String()
		require.NoError(t, nodes[i].Bootstrap(addr))
	}

	target, err := RandomNodeID()
	require.NoError(t, err)

	closest := nodes[1].Lookup(target)
	assert.NotEmpty(t, closest)
	assert.LessOrEqual(t, len(closest), lookupK)
}

func TestJoinTopicAnnouncesAndLeaves(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	require.NoError(t, a.Bootstrap(b.LocalAddr().String()))

	var topic Topic
	topic[0] = 0x99
	handle, err := a.JoinTopic(topic, true, false)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, a.Stats().ActiveTopics)
	assert.Len(t, b.Topics.Get(topic), 1)

	handle.Leave()
	assert.Equal(t, 0, a.Stats().ActiveTopics)
}
