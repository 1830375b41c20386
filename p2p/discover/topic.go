package discover

import (
	"fmt"
	"net"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TopicTTL is the time a topic announcement remains valid after its last
// refresh (spec §3 "TTL = 30 minutes").
const TopicTTL = 30 * time.Minute

// TopicSweepInterval is the minimum frequency at which expired entries are
// purged (spec §4.3: "sweep() ... MUST be called periodically (at least
// once per minute)").
const TopicSweepInterval = 60 * time.Second

// PeerEntry is one peer registered for a topic (spec §3 "PeerEntry").
type PeerEntry struct {
	IP       net.IP
	Port     uint16
	LastSeen time.Time
}

// TopicStorage is the per-node, non-persistent topic -> peer-set map (spec
// §4.3). It is a thin domain wrapper over patrickmn/go-cache: each
// (topic, address, port) tuple is one cache item with its own TTL-based
// expiration, and go-cache's own janitor goroutine already satisfies the
// "sweep at least once a minute" requirement; Sweep additionally exposes a
// manual pass for deterministic tests.
type TopicStorage struct {
	cache *gocache.Cache
}

// NewTopicStorage creates an empty topic store.
func NewTopicStorage() *TopicStorage {
	return &TopicStorage{
		cache: gocache.New(TopicTTL, TopicSweepInterval),
	}
}

func topicItemKey(topic Topic, ip net.IP, port uint16) string {
	return fmt.Sprintf("%x/%s:%d", topic[:], ip.String(), port)
}

// Announce upserts a PeerEntry for (infoHash, address, port), resetting its
// TTL to LastSeen := now (spec §4.3 "announce").
func (s *TopicStorage) Announce(infoHash Topic, ip net.IP, port uint16) {
	entry := PeerEntry{IP: ip, Port: port, LastSeen: time.Now()}
	s.cache.Set(topicItemKey(infoHash, ip, port), entry, TopicTTL)
}

// Get returns all non-expired entries for infoHash, most-recent first,
// capped at BucketSize (spec §4.3 "get").
func (s *TopicStorage) Get(infoHash Topic) []PeerEntry {
	prefix := fmt.Sprintf("%x/", infoHash[:])
	var entries []PeerEntry
	for key, item := range s.cache.Items() {
		if item.Expired() {
			continue
		}
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if entry, ok := item.Object.(PeerEntry); ok {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	if len(entries) > BucketSize {
		entries = entries[:BucketSize]
	}
	return entries
}

// Sweep drops every entry whose TTL has elapsed. go-cache's own janitor
// already runs this at TopicSweepInterval; this method gives the reactor
// and tests a deterministic, immediate pass.
func (s *TopicStorage) Sweep() {
	s.cache.DeleteExpired()
}
