package discover

import "math/bits"

// BucketCount is the number of k-buckets in a routing table: one per bit
// position of the 256-bit ID space.
const BucketCount = IDLength * 8

// Distance computes the XOR metric between two node IDs.
func Distance(a, b NodeID) (d [IDLength]byte) {
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether distance x is strictly smaller than y when both are
// interpreted as big-endian unsigned integers — the total order spec §3
// requires for bucket membership and closest-set ranking.
func Less(x, y [IDLength]byte) bool {
	for i := 0; i < IDLength; i++ {
		if x[i] != y[i] {
			return x[i] < y[i]
		}
	}
	return false
}

// BucketIndex returns 255 - floor(log2(d)) for a nonzero distance, the
// position of the highest differing bit; it returns 0 when d is the zero
// distance (spec §3).
func BucketIndex(d [IDLength]byte) int {
	for i := 0; i < IDLength; i++ {
		if d[i] == 0 {
			continue
		}
		// bits.LeadingZeros8 counts zero bits before the highest set bit
		// within this byte; adding i*8 for the zero bytes before it gives
		// the leading-zero count of the whole value, which IS
		// 255-floor(log2(d)): 0 means the MSB of the whole value is set
		// (bucket 0) and 255 means only the final bit is set (bucket 255).
		return i*8 + bits.LeadingZeros8(d[i])
	}
	return 0
}

// bucketIndexFor is a convenience wrapper computing the bucket a contact
// with id `other` falls into relative to `self`.
func bucketIndexFor(self, other NodeID) int {
	return BucketIndex(Distance(self, other))
}
