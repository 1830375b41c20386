package discover

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kadeswarm/swarm/internal/xlog"
	"github.com/kadeswarm/swarm/p2p/netutil"
)

// Node is the public surface of a swarm participant (spec §4.7): a bound
// Reactor plus the higher-level operations (bootstrap, topic membership,
// diagnostics) built on top of it.
type Node struct {
	*Reactor

	topicsMu sync.Mutex
	handles  map[*TopicHandle]struct{}
}

// CreateSwarm binds a UDP socket on laddr and starts the node. laddr may be
// ":0" to let the OS pick a port. netrestrict, if non-nil, limits which
// source addresses are processed: packets from addresses outside it are
// dropped without a reply, a routing-table update or a callback.
func CreateSwarm(laddr string, netrestrict *netutil.Netlist) (*Node, error) {
	reactor, err := ListenUDP(laddr, netrestrict)
	if err != nil {
		return nil, err
	}
	return &Node{Reactor: reactor, handles: make(map[*TopicHandle]struct{})}, nil
}

func resolveUDP(address string, port uint16) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, port))
}

// ErrTimeout is returned by any blocking RPC method that gets no reply
// within its deadline.
var ErrTimeout = errors.New("discover: rpc timed out")

// Ping sends a single PING and blocks until the matching PONG arrives or
// rpcTimeout elapses (spec §4.7 "ping"). Matching is by source address
// since the peer's NodeID may not be known yet (e.g. during Bootstrap).
func (n *Node) Ping(address string, port uint16) error {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return err
	}
	_, ch := n.addPendingAddr(addr, TypePong, rpcTimeout)
	if err := n.send(addr, &Message{Type: TypePing, SenderID: n.Self}); err != nil {
		return err
	}
	if _, ok := <-ch; !ok {
		return ErrTimeout
	}
	return nil
}

// FindNode issues a single direct FIND_NODE RPC to (address, port) and
// returns the closest nodes it reports (spec §4.7 "find_node"). For a
// network-wide search use Lookup, which iterates this RPC across the
// routing table.
func (n *Node) FindNode(address string, port uint16, target NodeID) ([]CallbackFoundNode, error) {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return nil, err
	}
	_, ch := n.addPendingAddr(addr, TypeFoundNodes, rpcTimeout)
	if err := n.send(addr, &Message{Type: TypeFindNode, SenderID: n.Self, FindNode: &FindNodePayload{Target: target}}); err != nil {
		return nil, err
	}
	msg, ok := <-ch
	if !ok || msg == nil || msg.FoundNodes == nil {
		return nil, ErrTimeout
	}
	out := make([]CallbackFoundNode, 0, len(msg.FoundNodes.Nodes))
	for _, nd := range msg.FoundNodes.Nodes {
		out = append(out, CallbackFoundNode{ID: nd.ID, Address: nd.IP.String(), Port: nd.Port})
	}
	return out, nil
}

// AnnouncePeer issues a single ANNOUNCE_PEER RPC to (address, port); it is
// fire-and-forget (spec §4.7 "announce_peer" has no reply message).
func (n *Node) AnnouncePeer(address string, port uint16, infoHash Topic, listenPort uint16) error {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return err
	}
	return n.send(addr, &Message{
		Type:         TypeAnnouncePeer,
		SenderID:     n.Self,
		AnnouncePeer: &AnnouncePeerPayload{InfoHash: infoHash, Port: listenPort},
	})
}

// GetPeers issues a single direct GET_PEERS RPC to (address, port) (spec
// §4.7 "get_peers"). For a network-wide search use JoinTopic with lookup
// enabled.
func (n *Node) GetPeers(address string, port uint16, infoHash Topic) ([]CallbackPeer, error) {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return nil, err
	}
	_, ch := n.addPendingAddr(addr, TypePeers, rpcTimeout)
	if err := n.send(addr, &Message{Type: TypeGetPeers, SenderID: n.Self, GetPeers: &GetPeersPayload{InfoHash: infoHash}}); err != nil {
		return nil, err
	}
	msg, ok := <-ch
	if !ok || msg == nil || msg.Peers == nil {
		return nil, ErrTimeout
	}
	out := make([]CallbackPeer, 0, len(msg.Peers.Peers))
	for _, p := range msg.Peers.Peers {
		out = append(out, CallbackPeer{Address: p.IP.String(), Port: p.Port})
	}
	return out, nil
}

// DumpRoutingTable returns a diagnostic snapshot of the routing table
// (spec §4.7 "dump_routing_table").
func (n *Node) DumpRoutingTable() RoutingTableStats {
	return n.Table.Dump()
}

// Bootstrap seeds the routing table from a set of "host:port" addresses
// and then runs a self-lookup to pull in their neighbours, the standard
// Kademlia join procedure.
func (n *Node) Bootstrap(addrs ...string) error {
	var firstErr error
	for _, a := range addrs {
		host, portStr, err := net.SplitHostPort(a)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		var port uint16
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := n.Ping(host, port); err != nil {
			xlog.Debugf("discover: bootstrap ping %s failed: %v", a, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	n.Lookup(n.Self)
	return firstErr
}

// TopicHandle represents ongoing membership in a topic joined via
// JoinTopic; Leave stops its background announce/lookup goroutine.
type TopicHandle struct {
	node   *Node
	topic  Topic
	cancel chan struct{}
	done   chan struct{}
}

// Leave stops this topic's background activity. Idempotent.
func (h *TopicHandle) Leave() {
	select {
	case <-h.cancel:
	default:
		close(h.cancel)
	}
	<-h.done
	h.node.topicsMu.Lock()
	delete(h.node.handles, h)
	h.node.topicsMu.Unlock()
}

// topicAnnounceInterval is well inside TopicTTL so a joined topic never
// silently expires out of other nodes' storage.
const topicAnnounceInterval = TopicTTL / 3

// topicLookupInterval governs how often a lookup-enabled handle re-scans
// the network for new peers on its topic.
const topicLookupInterval = 2 * time.Minute

// JoinTopic starts participating in a topic: if announce is true, the
// node periodically re-announces itself on its listening port to the
// closest known nodes; if lookup is true, it periodically runs an
// iterative GET_PEERS search and reports discovered peers through the
// installed Callback as synthetic PEERS deliveries.
func (n *Node) JoinTopic(topic Topic, announce bool, lookup bool) (*TopicHandle, error) {
	h := &TopicHandle{
		node:   n,
		topic:  topic,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	n.topicsMu.Lock()
	n.handles[h] = struct{}{}
	n.topicsMu.Unlock()

	go n.runTopic(h, announce, lookup)
	return h, nil
}

func (n *Node) runTopic(h *TopicHandle, announce, lookup bool) {
	defer close(h.done)
	announceTicker := time.NewTicker(topicAnnounceInterval)
	defer announceTicker.Stop()
	lookupTicker := time.NewTicker(topicLookupInterval)
	defer lookupTicker.Stop()

	doAnnounce := func() {
		local := n.LocalAddr()
		for _, c := range n.Table.Closest(NodeID(h.topic), lookupK) {
			_ = n.AnnouncePeer(c.IP.String(), c.Port, h.topic, uint16(local.Port))
		}
	}
	doLookup := func() {
		peers := n.LookupPeers(h.topic)
		for _, p := range peers {
			n.invokeCallback(NodeID{}, TypePeers, p.Address, p.Port, []CallbackPeer{p})
		}
	}

	if announce {
		doAnnounce()
	}
	if lookup {
		doLookup()
	}
	for {
		select {
		case <-h.cancel:
			return
		case <-announceTicker.C:
			if announce {
				doAnnounce()
			}
		case <-lookupTicker.C:
			if lookup {
				doLookup()
			}
		}
	}
}

// NodeStats is the diagnostic snapshot returned by Stats.
type NodeStats struct {
	Self         NodeID
	Table        RoutingTableStats
	ActiveTopics int
}

// Stats reports a diagnostic snapshot of the node (spec §9 "Design Notes").
func (n *Node) Stats() NodeStats {
	n.topicsMu.Lock()
	active := len(n.handles)
	n.topicsMu.Unlock()
	return NodeStats{
		Self:         n.Self,
		Table:        n.Table.Dump(),
		ActiveTopics: active,
	}
}

// Close shuts the node down: leaves every joined topic, then stops the
// reactor.
func (n *Node) Close() {
	n.topicsMu.Lock()
	handles := make([]*TopicHandle, 0, len(n.handles))
	for h := range n.handles {
		handles = append(handles, h)
	}
	n.topicsMu.Unlock()
	for _, h := range handles {
		h.Leave()
	}
	n.Reactor.Close()
}
