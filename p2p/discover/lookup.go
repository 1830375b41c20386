package discover

import (
	"container/heap"
	"net"
	"sync"
	"time"
)

// Iterative-lookup parameters fixed by spec §4.6.
const (
	lookupAlpha = 3
	lookupK     = BucketSize
)

// shortlistItem is one candidate in the lookup driver's bounded working set,
// ordered by XOR distance to the lookup target.
type shortlistItem struct {
	contact Contact
	dist    [IDLength]byte
	queried bool
}

// shortlist is a container/heap-backed priority queue of candidates closest
// to the target: the lookup driver only ever needs "closest unqueried
// candidate" and "k closest overall", both served directly by a heap
// (spec §9 notes a priority queue as the natural structure here; no
// ecosystem package is warranted for anything this small — see DESIGN.md).
type shortlist struct {
	items []*shortlistItem
	seen  map[string]*shortlistItem // addrKey -> item, for de-duplication
}

func newShortlist() *shortlist {
	return &shortlist{seen: make(map[string]*shortlistItem)}
}

func (s *shortlist) Len() int { return len(s.items) }
func (s *shortlist) Less(i, j int) bool {
	return Less(s.items[i].dist, s.items[j].dist)
}
func (s *shortlist) Swap(i, j int) { s.items[i], s.items[j] = s.items[j], s.items[i] }
func (s *shortlist) Push(x any)    { s.items = append(s.items, x.(*shortlistItem)) }
func (s *shortlist) Pop() any {
	old := s.items
	n := len(old)
	it := old[n-1]
	s.items = old[:n-1]
	return it
}

// add inserts a contact if it hasn't been seen before, ordered by distance
// to target, then drops the farthest candidate if the shortlist holds more
// than lookupK. Returns true if this was a new, previously-unseen contact.
func (s *shortlist) add(target NodeID, c Contact) bool {
	key := c.addrKey()
	if _, ok := s.seen[key]; ok {
		return false
	}
	item := &shortlistItem{contact: c, dist: Distance(target, c.ID)}
	s.seen[key] = item
	heap.Push(s, item)
	if s.Len() > lookupK {
		far := 0
		for i := 1; i < s.Len(); i++ {
			if Less(s.items[far].dist, s.items[i].dist) {
				far = i
			}
		}
		heap.Remove(s, far)
	}
	return true
}

// closestUnqueried returns up to n not-yet-queried candidates, closest
// first, marking them queried as they are returned.
func (s *shortlist) closestUnqueried(n int) []*shortlistItem {
	var picked []*shortlistItem
	var skipped []*shortlistItem
	for len(picked) < n && s.Len() > 0 {
		it := heap.Pop(s).(*shortlistItem)
		if it.queried {
			skipped = append(skipped, it)
			continue
		}
		it.queried = true
		picked = append(picked, it)
		skipped = append(skipped, it)
	}
	for _, it := range skipped {
		heap.Push(s, it)
	}
	return picked
}

// closest returns up to k candidates in non-decreasing distance order,
// without consuming the shortlist.
func (s *shortlist) closest(k int) []Contact {
	cp := append([]*shortlistItem(nil), s.items...)
	tmp := &shortlist{items: cp}
	out := make([]Contact, 0, k)
	for tmp.Len() > 0 && len(out) < k {
		out = append(out, heap.Pop(tmp).(*shortlistItem).contact)
	}
	return out
}

// Lookup runs the iterative FIND_NODE lookup of spec §4.6: alpha=3
// candidates queried per round, bounded by a k=8 shortlist, converging
// when a round yields no candidate closer than the best already known, or
// when the overall 2-second budget elapses.
func (r *Reactor) Lookup(target NodeID) []Contact {
	sl := newShortlist()
	for _, c := range r.Table.Closest(target, lookupK) {
		sl.add(target, c)
	}

	deadline := time.Now().Add(lookupTimeout)
	bestDist := func() [IDLength]byte {
		closest := sl.closest(1)
		if len(closest) == 0 {
			return [IDLength]byte{}
		}
		return Distance(target, closest[0].ID)
	}

	for time.Now().Before(deadline) {
		round := sl.closestUnqueried(lookupAlpha)
		if len(round) == 0 {
			break
		}
		prevBest := bestDist()

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, cand := range round {
			wg.Add(1)
			go func(c Contact) {
				defer wg.Done()
				addr := &net.UDPAddr{IP: c.IP, Port: int(c.Port)}
				_, ch := r.addPending(c.ID, TypeFoundNodes, rpcTimeout)
				if err := r.send(addr, &Message{
					Type:     TypeFindNode,
					SenderID: r.Self,
					FindNode: &FindNodePayload{Target: target},
				}); err != nil {
					return
				}
				msg, ok := <-ch
				if !ok || msg == nil || msg.FoundNodes == nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				for _, n := range msg.FoundNodes.Nodes {
					if n.ID == r.Self {
						continue
					}
					sl.add(target, Contact{ID: n.ID, IP: n.IP, Port: n.Port, LastSeen: time.Now()})
				}
			}(cand.contact)
		}
		wg.Wait()

		if !Less(bestDist(), prevBest) && prevBest != ([IDLength]byte{}) {
			break // converged: no closer node surfaced this round
		}
	}
	return sl.closest(lookupK)
}

// LookupPeers runs the same alpha/k convergence loop as Lookup, but each
// round sends both GET_PEERS and FIND_NODE to every queried candidate
// (spec §4.6: "many implementations send both in parallel"). PEERS replies
// carry no node IDs, so FIND_NODE is what lets the shortlist grow beyond
// whatever was already in the local routing table at call time and actually
// traverse the network toward the topic's closest nodes.
func (r *Reactor) LookupPeers(infoHash Topic) []CallbackPeer {
	target := NodeID(infoHash)
	sl := newShortlist()
	for _, c := range r.Table.Closest(target, lookupK) {
		sl.add(target, c)
	}

	var mu sync.Mutex
	var found []CallbackPeer
	seen := make(map[string]bool)

	bestDist := func() [IDLength]byte {
		closest := sl.closest(1)
		if len(closest) == 0 {
			return [IDLength]byte{}
		}
		return Distance(target, closest[0].ID)
	}

	deadline := time.Now().Add(lookupTimeout)
	for time.Now().Before(deadline) {
		round := sl.closestUnqueried(lookupAlpha)
		if len(round) == 0 {
			break
		}
		prevBest := bestDist()
		var wg sync.WaitGroup
		for _, cand := range round {
			wg.Add(1)
			go func(c Contact) {
				defer wg.Done()
				addr := &net.UDPAddr{IP: c.IP, Port: int(c.Port)}

				var inner sync.WaitGroup
				inner.Add(2)

				go func() {
					defer inner.Done()
					_, peersCh := r.addPending(c.ID, TypePeers, rpcTimeout)
					if err := r.send(addr, &Message{
						Type:     TypeGetPeers,
						SenderID: r.Self,
						GetPeers: &GetPeersPayload{InfoHash: infoHash},
					}); err != nil {
						return
					}
					msg, ok := <-peersCh
					if !ok || msg == nil || msg.Peers == nil {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					for _, p := range msg.Peers.Peers {
						key := p.IP.String() + ":" + itoaPort(p.Port)
						if seen[key] {
							continue
						}
						seen[key] = true
						found = append(found, CallbackPeer{Address: p.IP.String(), Port: p.Port})
					}
				}()

				go func() {
					defer inner.Done()
					_, nodesCh := r.addPending(c.ID, TypeFoundNodes, rpcTimeout)
					if err := r.send(addr, &Message{
						Type:     TypeFindNode,
						SenderID: r.Self,
						FindNode: &FindNodePayload{Target: target},
					}); err != nil {
						return
					}
					msg, ok := <-nodesCh
					if !ok || msg == nil || msg.FoundNodes == nil {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					for _, n := range msg.FoundNodes.Nodes {
						if n.ID == r.Self {
							continue
						}
						sl.add(target, Contact{ID: n.ID, IP: n.IP, Port: n.Port, LastSeen: time.Now()})
					}
				}()

				inner.Wait()
			}(cand.contact)
		}
		wg.Wait()

		if !Less(bestDist(), prevBest) && prevBest != ([IDLength]byte{}) {
			break // converged: no closer node surfaced this round
		}
	}
	return found
}

func itoaPort(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}
