package discover

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicStorageAnnounceAndGet(t *testing.T) {
	s := NewTopicStorage()
	var topic Topic
	topic[0] = 1

	s.Announce(topic, net.IPv4(1, 2, 3, 4), 6881)
	s.Announce(topic, net.IPv4(1, 2, 3, 5), 6882)

	peers := s.Get(topic)
	require.Len(t, peers, 2)
}

func TestTopicStorageGetCapsAtBucketSize(t *testing.T) {
	s := NewTopicStorage()
	var topic Topic
	topic[0] = 2

	for i := 0; i < BucketSize+3; i++ {
		s.Announce(topic, net.IPv4(10, 0, 0, byte(i)), uint16(i+1))
	}
	peers := s.Get(topic)
	assert.Len(t, peers, BucketSize)
}

func TestTopicStorageIsolatedByTopic(t *testing.T) {
	s := NewTopicStorage()
	var a, b Topic
	a[0] = 1
	b[0] = 2

	s.Announce(a, net.IPv4(1, 1, 1, 1), 1)
	assert.Len(t, s.Get(a), 1)
	assert.Len(t, s.Get(b), 0)
}

func TestTopicStorageExpiry(t *testing.T) {
	s := NewTopicStorage()
	var topic Topic
	topic[0] = 3
	ip := net.IPv4(9, 9, 9, 9)

	entry := PeerEntry{IP: ip, Port: 1, LastSeen: time.Now()}
	s.cache.Set(topicItemKey(topic, ip, 1), entry, 10*time.Millisecond)
	require.Len(t, s.Get(topic), 1)

	time.Sleep(20 * time.Millisecond)
	s.Sweep()
	assert.Len(t, s.Get(topic), 0)
}
