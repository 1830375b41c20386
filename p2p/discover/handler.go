package discover

import (
	"net"

	"github.com/kadeswarm/swarm/p2p/netutil"
)

// CallbackFoundNode is the FOUND_NODES element shape delivered to the user
// callback: addresses are rendered as dotted-quad strings per spec §6.
type CallbackFoundNode struct {
	ID      NodeID
	Address string
	Port    uint16
}

// CallbackPeer is the PEERS element shape delivered to the user callback.
type CallbackPeer struct {
	Address string
	Port    uint16
}

// dispatch implements the protocol handler (spec §4.5): it updates the
// routing table, replies where the message type calls for a reply, feeds
// any matching pending RPC, and finally invokes the user callback exactly
// once. It always runs on the readLoop goroutine.
func (r *Reactor) dispatch(from *net.UDPAddr, msg *Message) {
	if msg.SenderID == r.Self {
		return // never process our own echoed packets
	}

	if r.netrestrict != nil && !r.netrestrict.Contains(from.IP) {
		return
	}

	r.Table.Touch(from.IP, from.Port)
	r.Table.Insert(Contact{ID: msg.SenderID, IP: from.IP, Port: from.Port})

	switch msg.Type {
	case TypePing:
		r.send(from, &Message{Type: TypePong, SenderID: r.Self})
		r.invokeCallback(msg.SenderID, msg.Type, from.IP.String(), uint16(from.Port), nil)

	case TypePong:
		r.dispatchReply(msg.SenderID, from, TypePong, msg)
		r.invokeCallback(msg.SenderID, msg.Type, from.IP.String(), uint16(from.Port), nil)

	case TypeFindNode:
		if msg.FindNode == nil {
			return
		}
		closest := r.Table.Closest(msg.FindNode.Target, BucketSize)
		nodes := make([]FoundNode, 0, len(closest))
		for _, c := range closest {
			if c.ID == msg.SenderID {
				continue
			}
			if netutil.CheckRelayIP(from.IP, c.IP) != nil {
				continue
			}
			nodes = append(nodes, FoundNode{ID: c.ID, IP: c.IP, Port: c.Port})
		}
		r.send(from, &Message{
			Type:       TypeFoundNodes,
			SenderID:   r.Self,
			FoundNodes: &FoundNodesPayload{Nodes: nodes},
		})
		r.invokeCallback(msg.SenderID, msg.Type, from.IP.String(), uint16(from.Port),
			FindNodePayload{Target: msg.FindNode.Target})

	case TypeFoundNodes:
		if msg.FoundNodes == nil {
			return
		}
		out := make([]CallbackFoundNode, 0, len(msg.FoundNodes.Nodes))
		for _, n := range msg.FoundNodes.Nodes {
			if n.ID != r.Self {
				r.Table.Insert(Contact{ID: n.ID, IP: n.IP, Port: n.Port})
			}
			out = append(out, CallbackFoundNode{ID: n.ID, Address: n.IP.String(), Port: n.Port})
		}
		r.dispatchReply(msg.SenderID, from, TypeFoundNodes, msg)
		r.invokeCallback(msg.SenderID, msg.Type, from.IP.String(), uint16(from.Port), out)

	case TypeAnnouncePeer:
		if msg.AnnouncePeer == nil {
			return
		}
		r.Topics.Announce(msg.AnnouncePeer.InfoHash, from.IP, msg.AnnouncePeer.Port)
		r.invokeCallback(msg.SenderID, msg.Type, from.IP.String(), uint16(from.Port),
			AnnouncePeerPayload{InfoHash: msg.AnnouncePeer.InfoHash, Port: msg.AnnouncePeer.Port})

	case TypeGetPeers:
		if msg.GetPeers == nil {
			return
		}
		entries := r.Topics.Get(msg.GetPeers.InfoHash)
		peers := make([]PeerAddr, 0, len(entries))
		for _, e := range entries {
			if netutil.CheckRelayIP(from.IP, e.IP) != nil {
				continue
			}
			peers = append(peers, PeerAddr{IP: e.IP, Port: e.Port})
		}
		r.send(from, &Message{
			Type:     TypePeers,
			SenderID: r.Self,
			Peers:    &PeersPayload{Peers: peers},
		})
		r.invokeCallback(msg.SenderID, msg.Type, from.IP.String(), uint16(from.Port),
			GetPeersPayload{InfoHash: msg.GetPeers.InfoHash})

	case TypePeers:
		if msg.Peers == nil {
			return
		}
		out := make([]CallbackPeer, 0, len(msg.Peers.Peers))
		for _, p := range msg.Peers.Peers {
			out = append(out, CallbackPeer{Address: p.IP.String(), Port: p.Port})
		}
		r.dispatchReply(msg.SenderID, from, TypePeers, msg)
		r.invokeCallback(msg.SenderID, msg.Type, from.IP.String(), uint16(from.Port), out)

	default:
		metricUnknownType.Inc(1)
	}
}
