package discover

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceSelfIsZero(t *testing.T) {
	var id NodeID
	id[0] = 0x42
	d := Distance(id, id)
	assert.Equal(t, [IDLength]byte{}, d)
}

func TestBucketIndexHighestBit(t *testing.T) {
	var d [IDLength]byte
	d[0] = 0x80 // highest bit of the whole array set
	assert.Equal(t, 0, BucketIndex(d))
}

func TestBucketIndexLowestBit(t *testing.T) {
	var d [IDLength]byte
	d[IDLength-1] = 0x01
	assert.Equal(t, BucketCount-1, BucketIndex(d))
}

func TestBucketIndexZeroDistance(t *testing.T) {
	var d [IDLength]byte
	assert.Equal(t, 0, BucketIndex(d))
}

func TestLessOrdersLexicographically(t *testing.T) {
	a := [IDLength]byte{0x01}
	b := [IDLength]byte{0x02}
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.False(t, Less(a, a))
}
