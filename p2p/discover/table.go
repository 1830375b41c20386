package discover

import (
	"container/list"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// BucketSize is K, the Kademlia bucket capacity and default closest-set
// size (spec glossary).
const BucketSize = 8

var metricTableSize = metrics.GetOrRegisterGauge("discover/table/size", metrics.DefaultRegistry)

// Contact is one entry of the routing table (spec §3 "Contact").
// Equality for routing-table purposes is by (IP, Port); ID is simply the
// most recently observed value for that address.
type Contact struct {
	ID       NodeID
	IP       net.IP
	Port     uint16
	LastSeen time.Time
}

func (c Contact) addrKey() string {
	return fmt.Sprintf("%s:%d", c.IP.String(), c.Port)
}

// bucketEntry is the payload stored in each bucket's container/list.List,
// letting touch/remove locate and splice a contact in O(1) via the index
// map below — the same list-based structure the teacher's udp.go already
// uses for its RPC pending queue, reused here for bucket storage.
type bucketEntry struct {
	bucket int
	c      Contact
}

// RoutingTable is a node's view of the overlay: BucketCount buckets of up
// to BucketSize contacts each, keyed by XOR distance from self.
type RoutingTable struct {
	mu      sync.Mutex
	self    NodeID
	selfKey string
	buckets [BucketCount]*list.List
	index   map[string]*list.Element
}

// NewRoutingTable creates an empty table owned by node `self`.
func NewRoutingTable(self NodeID) *RoutingTable {
	t := &RoutingTable{
		self:  self,
		index: make(map[string]*list.Element),
	}
	for i := range t.buckets {
		t.buckets[i] = list.New()
	}
	return t
}

// SetSelfAddr records the node's own (address, port) so Insert can refuse
// to add it to the table (spec §3: "The node never inserts its own
// self_id or its own (address, port)").
func (t *RoutingTable) SetSelfAddr(ip net.IP, port uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selfKey = (Contact{IP: ip, Port: port}).addrKey()
}

// Insert adds or refreshes a contact, applying the bucket invariants of
// spec §3: no duplicate (address,port) within a bucket, touch-on-insert
// moves to the tail, and a full bucket rejects the newcomer outright
// (head-preserving / reject-if-full — the Open Question's baseline
// policy; see DESIGN.md). It reports whether the contact ended up present
// in the table (true for an update or an accepted insert).
func (t *RoutingTable) Insert(c Contact) bool {
	if c.ID == t.self {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := c.addrKey()
	if key == t.selfKey {
		return false
	}
	if c.LastSeen.IsZero() {
		c.LastSeen = time.Now()
	}

	if el, ok := t.index[key]; ok {
		entry := el.Value.(*bucketEntry)
		bl := t.buckets[entry.bucket]
		entry.c = c
		bl.MoveToBack(el)
		return true
	}

	idx := bucketIndexFor(t.self, c.ID)
	bl := t.buckets[idx]
	if bl.Len() >= BucketSize {
		// Bucket full: reject the newcomer, preserving the existing head
		// (assumed most reliable). A probe-and-evict refinement could
		// ping the head and replace it on silence; not implemented here
		// (spec §9 Open Question — baseline is reject-if-full).
		return false
	}
	el := bl.PushBack(&bucketEntry{bucket: idx, c: c})
	t.index[key] = el
	metricTableSize.Update(int64(len(t.index)))
	return true
}

// Touch promotes the contact matching (ip, port) to the most-recently-seen
// position, updating its LastSeen timestamp. It is a no-op if no such
// contact is present.
func (t *RoutingTable) Touch(ip net.IP, port uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := (Contact{IP: ip, Port: port}).addrKey()
	el, ok := t.index[key]
	if !ok {
		return
	}
	entry := el.Value.(*bucketEntry)
	entry.c.LastSeen = time.Now()
	t.buckets[entry.bucket].MoveToBack(el)
}

// Remove deletes any contact matching (ip, port).
func (t *RoutingTable) Remove(ip net.IP, port uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := (Contact{IP: ip, Port: port}).addrKey()
	el, ok := t.index[key]
	if !ok {
		return
	}
	entry := el.Value.(*bucketEntry)
	t.buckets[entry.bucket].Remove(el)
	delete(t.index, key)
	metricTableSize.Update(int64(len(t.index)))
}

// Closest returns up to k contacts ordered by strictly non-decreasing XOR
// distance to target (spec §4.2). The implementation collects every
// contact and sorts by distance rather than walking buckets outward, which
// is simpler and, at BucketCount*BucketSize entries at most, cheap enough
// that it is the honest choice over a fancier partial-bucket walk.
func (t *RoutingTable) Closest(target NodeID, k int) []Contact {
	t.mu.Lock()
	all := make([]Contact, 0, len(t.index))
	for _, el := range t.index {
		all = append(all, el.Value.(*bucketEntry).c)
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		di := Distance(target, all[i].ID)
		dj := Distance(target, all[j].ID)
		if di != dj {
			return Less(di, dj)
		}
		// Deterministic tie-break for equal distance (spec §4.6).
		return addrLess(all[i], all[j])
	})
	if k < len(all) {
		all = all[:k]
	}
	return all
}

func addrLess(a, b Contact) bool {
	if !a.IP.Equal(b.IP) {
		return a.IP.String() < b.IP.String()
	}
	return a.Port < b.Port
}

// Size returns the total number of contacts currently stored.
func (t *RoutingTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.index)
}

// BucketOccupancy is a diagnostic snapshot of one bucket's contact count.
type BucketOccupancy struct {
	Bucket int
	Count  int
}

// RoutingTableStats is the diagnostic snapshot returned by Stats/dump.
type RoutingTableStats struct {
	Self    NodeID
	Total   int
	Buckets []BucketOccupancy
}

// Dump produces a diagnostic snapshot of the table (spec §4.2 "dump()").
func (t *RoutingTable) Dump() RoutingTableStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := RoutingTableStats{Self: t.self, Total: len(t.index)}
	for i, bl := range t.buckets {
		if bl.Len() > 0 {
			stats.Buckets = append(stats.Buckets, BucketOccupancy{Bucket: i, Count: bl.Len()})
		}
	}
	return stats
}

// Contacts returns every contact currently stored, in no particular order.
func (t *RoutingTable) Contacts() []Contact {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]Contact, 0, len(t.index))
	for _, el := range t.index {
		all = append(all, el.Value.(*bucketEntry).c)
	}
	return all
}
