package discover

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContact(b byte, port uint16) Contact {
	var id NodeID
	id[0] = b
	return Contact{ID: id, IP: net.IPv4(127, 0, 0, byte(port)), Port: port}
}

func TestRoutingTableInsertAndSize(t *testing.T) {
	var self NodeID
	table := NewRoutingTable(self)

	ok := table.Insert(newTestContact(1, 1))
	assert.True(t, ok)
	assert.Equal(t, 1, table.Size())
}

func TestRoutingTableRejectsSelf(t *testing.T) {
	var self NodeID
	table := NewRoutingTable(self)
	assert.False(t, table.Insert(Contact{ID: self, IP: net.IPv4(1, 1, 1, 1), Port: 1}))
}

func TestRoutingTableRejectsOwnAddr(t *testing.T) {
	var self NodeID
	table := NewRoutingTable(self)
	table.SetSelfAddr(net.IPv4(10, 0, 0, 1), 30300)

	other := newTestContact(5, 1)
	other.IP = net.IPv4(10, 0, 0, 1)
	other.Port = 30300
	assert.False(t, table.Insert(other))
}

func TestRoutingTableUpdateMovesNotDuplicates(t *testing.T) {
	var self NodeID
	table := NewRoutingTable(self)
	c := newTestContact(1, 1)

	table.Insert(c)
	table.Insert(c)
	assert.Equal(t, 1, table.Size())
}

func TestRoutingTableFullBucketRejects(t *testing.T) {
	var self NodeID
	table := NewRoutingTable(self)

	// Every id here has 0x80 as its highest-order byte, so the highest
	// differing bit relative to the zero self ID is always bit 0 of byte
	// 0: all BucketSize+1 contacts collide into the same bucket.
	for i := 0; i < BucketSize; i++ {
		var id NodeID
		id[0] = 0x80
		id[31] = byte(i + 1)
		c := Contact{ID: id, IP: net.IPv4(127, 0, 0, byte(i+1)), Port: uint16(i + 1)}
		require.True(t, table.Insert(c))
	}
	assert.Equal(t, BucketSize, table.Size())

	var overflow NodeID
	overflow[0] = 0x80
	overflow[31] = 0xff
	ok := table.Insert(Contact{ID: overflow, IP: net.IPv4(127, 0, 0, 99), Port: 99})
	assert.False(t, ok)
	assert.Equal(t, BucketSize, table.Size())
}

func TestRoutingTableTouchAndRemove(t *testing.T) {
	var self NodeID
	table := NewRoutingTable(self)
	c := newTestContact(1, 42)
	table.Insert(c)

	table.Touch(c.IP, c.Port)
	assert.Equal(t, 1, table.Size())

	table.Remove(c.IP, c.Port)
	assert.Equal(t, 0, table.Size())
}

func TestRoutingTableClosestOrdering(t *testing.T) {
	var self NodeID
	table := NewRoutingTable(self)

	var target NodeID
	near := newTestContact(1, 1)
	far := newTestContact(0xff, 2)
	table.Insert(near)
	table.Insert(far)

	closest := table.Closest(target, 2)
	assert.Len(t, closest, 2)
	assert.Equal(t, near.ID, closest[0].ID)
}

func TestRoutingTableDump(t *testing.T) {
	var self NodeID
	table := NewRoutingTable(self)
	table.Insert(newTestContact(1, 1))

	stats := table.Dump()
	assert.Equal(t, 1, stats.Total)
	assert.Len(t, stats.Buckets, 1)
}
