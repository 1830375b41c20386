// Copyright 2015 The MOAC-core Authors
// This file is part of the MOAC-core library.
//
// The MOAC-core library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The MOAC-core library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the MOAC-core library. If not, see <http://www.gnu.org/licenses/>.

package discover

import (
	"container/list"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kadeswarm/swarm/internal/xlog"
	"github.com/kadeswarm/swarm/p2p/netutil"
	metrics "github.com/rcrowley/go-metrics"
)

// Timeouts fixed by spec §4.6.
const (
	rpcTimeout    = 500 * time.Millisecond
	lookupTimeout = 2 * time.Second
	recvWait      = 100 * time.Millisecond // spec §5: reactor may only block in recv, bounded <=100ms

	ntpFailureThreshold = 32               // continuous RPC timeouts before an NTP drift check
	ntpWarningCooldown  = 10 * time.Minute // minimum time between repeated drift warnings
	driftThreshold      = 10 * time.Second // clock drift considered worth a warning

	pendingRPCCapacity = 4096 // bound on outstanding RPCs, a flood guard
)

var (
	metricUnknownType = metrics.GetOrRegisterCounter("discover/handler/unknown_type", metrics.DefaultRegistry)
	metricSendErrors  = metrics.GetOrRegisterCounter("discover/reactor/send_errors", metrics.DefaultRegistry)
	metricRPCTimeouts = metrics.GetOrRegisterCounter("discover/reactor/rpc_timeouts", metrics.DefaultRegistry)
)

// Callback is the function an embedder installs via SetCallback. It is
// invoked once per accepted inbound packet with the sender's ID, message
// type, source address/port (address as a dotted-quad string per spec §6),
// and a payload value shaped per message type (see handler.go and wire.go).
type Callback func(senderID NodeID, msgType MessageType, address string, port uint16, payload any)

// pendingRPC is one outstanding request awaiting a single reply packet,
// matched by (from, msgType) the way the teacher's udp.go plist does,
// disambiguated across concurrent in-flight requests of the same type to
// the same peer by program order (oldest pending matches first).
type pendingRPC struct {
	token    RequestToken
	from     NodeID
	addrKey  string // set instead of `from` when the sender's ID isn't known yet
	msgType  MessageType
	deadline time.Time
	replyCh  chan *Message // receives the matching reply; closed+nil on timeout
}

func (p *pendingRPC) matches(rep rpcReply) bool {
	if p.msgType != rep.msgType {
		return false
	}
	if p.addrKey != "" {
		return p.addrKey == rep.addrKey
	}
	return p.from == rep.from
}

// rpcReply is handed from readLoop to loop() when an inbound packet completes
// a pending RPC.
type rpcReply struct {
	from    NodeID
	addrKey string
	msgType MessageType
	msg     *Message
}

// Reactor is the single-socket UDP I/O loop (spec §4.4): it owns the
// socket, the routing table and the topic storage, and runs the dedicated
// receiver-thread scheduling model of spec §5. Socket reads and pending-RPC
// bookkeeping happen only on the reactor's own goroutines, reached from
// other goroutines through channels. The routing table and topic storage
// are guarded by their own locks and are read and written directly by
// caller goroutines too (lookups, the Node RPC helpers, topic refreshes);
// sends from any goroutine are serialized by sendMu.
type Reactor struct {
	Self NodeID

	conn   *net.UDPConn
	sendMu sync.Mutex // serializes encode+write so sends are never interleaved (spec §4.4)

	Table  *RoutingTable
	Topics *TopicStorage

	netKeyMu sync.RWMutex
	netKey   *[NetworkKeySize]byte

	callbackMu sync.RWMutex
	callback   Callback

	netrestrict *netutil.Netlist

	pendingAdd   chan *pendingRPC
	gotReply     chan rpcReply
	closing      chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	pendingIndex *lru.Cache[RequestToken, *list.Element]
}

// ListenUDP binds a UDP socket on laddr (an empty port selects an
// OS-assigned one), generates a fresh random node identity, and starts the
// reactor's dedicated receiver thread. This is the only operation with a
// fatal creation-time error (spec §7).
func ListenUDP(laddr string, netrestrict *netutil.Netlist) (*Reactor, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("discover: resolve %q: %w", laddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("discover: bind %q: %w", laddr, err)
	}
	self, err := RandomNodeID()
	if err != nil {
		conn.Close()
		return nil, err
	}

	idx, err := lru.New[RequestToken, *list.Element](pendingRPCCapacity)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("discover: init pending-rpc lru: %w", err)
	}

	r := &Reactor{
		Self:         self,
		conn:         conn,
		Table:        NewRoutingTable(self),
		Topics:       NewTopicStorage(),
		netrestrict:  netrestrict,
		pendingAdd:   make(chan *pendingRPC),
		gotReply:     make(chan rpcReply),
		closing:      make(chan struct{}),
		pendingIndex: idx,
	}
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		r.Table.SetSelfAddr(local.IP, uint16(local.Port))
	}

	r.wg.Add(2)
	go r.loop()
	go r.readLoop()
	xlog.Infof("discover: listening on %s, self=%s", conn.LocalAddr(), self)
	return r, nil
}

// LocalAddr returns the bound local address.
func (r *Reactor) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Close shuts the reactor down: stops accepting packets, fails every
// pending RPC, and joins both reactor goroutines. Idempotent.
func (r *Reactor) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		r.conn.Close()
	})
	r.wg.Wait()
}

// SetNetworkKey installs or clears the shared network key under a mutex
// (spec §5: "set_network_key ... install values under a mutex"). A nil key
// reverts the node to sending/accepting plaintext packets.
func (r *Reactor) SetNetworkKey(key *[NetworkKeySize]byte) {
	r.netKeyMu.Lock()
	defer r.netKeyMu.Unlock()
	r.netKey = key
}

func (r *Reactor) networkKey() (*[NetworkKeySize]byte, bool) {
	r.netKeyMu.RLock()
	defer r.netKeyMu.RUnlock()
	return r.netKey, r.netKey != nil
}

// SetCallback installs the callback invoked for every accepted inbound
// packet. Subsequent callbacks run on the reactor thread (spec §5).
func (r *Reactor) SetCallback(cb Callback) {
	r.callbackMu.Lock()
	defer r.callbackMu.Unlock()
	r.callback = cb
}

func (r *Reactor) invokeCallback(senderID NodeID, msgType MessageType, address string, port uint16, payload any) {
	r.callbackMu.RLock()
	cb := r.callback
	r.callbackMu.RUnlock()
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			xlog.Errorf("discover: user callback panicked: %v", rec)
		}
	}()
	cb(senderID, msgType, address, port, payload)
}

// send serializes encoding and transmission so a single peer never sees
// interleaved packets (spec §4.4), applying authenticated framing when a
// network key is installed. Send failures are logged and counted, never
// surfaced (spec §7); only an encoding error is returned.
func (r *Reactor) send(addr *net.UDPAddr, msg *Message) error {
	plain, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	out := plain
	if key, ok := r.networkKey(); ok {
		out, err = sealFrame(*key, plain)
		if err != nil {
			metricSendErrors.Inc(1)
			xlog.Errorf("discover: seal frame to %s: %v", addr, err)
			return nil
		}
	}
	if _, err := r.conn.WriteToUDP(out, addr); err != nil {
		metricSendErrors.Inc(1)
		xlog.Debugf("discover: send %s to %s failed: %v", msg.Type, addr, err)
		return nil
	}
	return nil
}

// addPending registers interest in the next reply of msgType from `from`,
// returning a channel that receives the matching Message or is closed
// (nil read) on timeout/shutdown.
func (r *Reactor) addPending(from NodeID, msgType MessageType, timeout time.Duration) (RequestToken, <-chan *Message) {
	token, err := NewRequestToken()
	if err != nil {
		ch := make(chan *Message)
		close(ch)
		return 0, ch
	}
	p := &pendingRPC{
		token:    token,
		from:     from,
		msgType:  msgType,
		deadline: time.Now().Add(timeout),
		replyCh:  make(chan *Message, 1),
	}
	select {
	case r.pendingAdd <- p:
	case <-r.closing:
		close(p.replyCh)
	}
	return token, p.replyCh
}

// addPendingAddr registers interest in the next reply of msgType from a
// peer at addr, for callers that don't yet know the peer's NodeID (e.g. the
// first PING to an unreached bootstrap address).
func (r *Reactor) addPendingAddr(addr *net.UDPAddr, msgType MessageType, timeout time.Duration) (RequestToken, <-chan *Message) {
	token, err := NewRequestToken()
	if err != nil {
		ch := make(chan *Message)
		close(ch)
		return 0, ch
	}
	p := &pendingRPC{
		token:    token,
		addrKey:  addrKeyOf(addr),
		msgType:  msgType,
		deadline: time.Now().Add(timeout),
		replyCh:  make(chan *Message, 1),
	}
	select {
	case r.pendingAdd <- p:
	case <-r.closing:
		close(p.replyCh)
	}
	return token, p.replyCh
}

func addrKeyOf(addr *net.UDPAddr) string {
	return fmt.Sprintf("%s:%d", addr.IP.String(), addr.Port)
}

// dispatchReply hands an inbound message that may complete a pending RPC to
// the reactor loop; it blocks briefly on the loop goroutine only.
func (r *Reactor) dispatchReply(from NodeID, addr *net.UDPAddr, msgType MessageType, msg *Message) {
	select {
	case r.gotReply <- rpcReply{from: from, addrKey: addrKeyOf(addr), msgType: msgType, msg: msg}:
	case <-r.closing:
	}
}

// loop owns all pending-RPC bookkeeping: the reactor's only writer of
// pendingList/pendingIndex, exactly mirroring the teacher's udp.go loop()
// goroutine (a deadline-ordered container/list, matched by from+type).
func (r *Reactor) loop() {
	defer r.wg.Done()

	pendingList := list.New()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	var contTimeouts int
	var ntpWarnedAt time.Time

	resetTimer := func() {
		front := pendingList.Front()
		if front == nil {
			return
		}
		next := front.Value.(*pendingRPC)
		d := time.Until(next.deadline)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}

	for {
		resetTimer()
		select {
		case <-r.closing:
			for el := pendingList.Front(); el != nil; el = el.Next() {
				close(el.Value.(*pendingRPC).replyCh)
			}
			return

		case p := <-r.pendingAdd:
			if pendingList.Len() >= pendingRPCCapacity {
				// Flood guard: fail the oldest in-flight RPC as a timeout.
				oldest := pendingList.Front()
				op := oldest.Value.(*pendingRPC)
				close(op.replyCh)
				pendingList.Remove(oldest)
				r.pendingIndex.Remove(op.token)
				metricRPCTimeouts.Inc(1)
			}
			el := pendingList.PushBack(p)
			r.pendingIndex.Add(p.token, el)

		case rep := <-r.gotReply:
			for el := pendingList.Front(); el != nil; el = el.Next() {
				p := el.Value.(*pendingRPC)
				if p.matches(rep) {
					p.replyCh <- rep.msg
					pendingList.Remove(el)
					r.pendingIndex.Remove(p.token)
					contTimeouts = 0
					break
				}
			}

		case now := <-timer.C:
			for el := pendingList.Front(); el != nil; {
				next := el.Next()
				p := el.Value.(*pendingRPC)
				if now.Before(p.deadline) {
					break
				}
				close(p.replyCh)
				pendingList.Remove(el)
				r.pendingIndex.Remove(p.token)
				metricRPCTimeouts.Inc(1)
				contTimeouts++
				el = next
			}
			if contTimeouts > ntpFailureThreshold && time.Since(ntpWarnedAt) >= ntpWarningCooldown {
				ntpWarnedAt = time.Now()
				contTimeouts = 0
				go checkClockDrift()
			}
		}
	}
}

// readLoop runs on its own goroutine and is the only reader of the socket
// (spec §4.4 "the reactor is the only party that touches the socket"). It
// blocks in recv for at most recvWait at a time so shutdown and the topic
// sweep tick stay responsive (spec §5 suspension-point bound).
func (r *Reactor) readLoop() {
	defer r.wg.Done()
	buf := make([]byte, 2048)
	lastSweep := time.Now()

	for {
		select {
		case <-r.closing:
			return
		default:
		}

		if time.Since(lastSweep) >= TopicSweepInterval {
			r.Topics.Sweep()
			lastSweep = time.Now()
		}

		r.conn.SetReadDeadline(time.Now().Add(recvWait))
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if netutil.IsTemporaryError(err) {
				continue
			}
			select {
			case <-r.closing:
				return
			default:
				xlog.Debugf("discover: read error: %v", err)
				continue
			}
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		r.handlePacket(from, raw)
	}
}

// handlePacket authenticates/decodes one inbound datagram and dispatches it
// to the protocol handler. Any failure at this stage is silently dropped
// and already counted by the codec (spec §4.1, §7). A node with a network
// key set only ever opens authenticated frames; a node with none only ever
// decodes plaintext — the key choice cleanly partitions the overlay into
// two networks that never interoperate (spec §4.1).
func (r *Reactor) handlePacket(from *net.UDPAddr, raw []byte) {
	plain := raw
	if key, ok := r.networkKey(); ok {
		opened, err := openFrame(*key, raw)
		if err != nil {
			return
		}
		plain = opened
	}

	msg, err := DecodeMessage(plain)
	if err != nil {
		return
	}
	r.dispatch(from, msg)
}

func checkClockDrift() {
	drift, err := ntpDrift()
	if err != nil {
		xlog.Debugf("discover: ntp check failed: %v", err)
		return
	}
	if drift > driftThreshold || drift < -driftThreshold {
		xlog.Warnf("discover: local clock drift %v exceeds threshold after repeated RPC timeouts; check system time", drift)
	}
}
