// Package internal holds helpers shared by the client packages.
package internal

// JumpHash maps a 64-bit key hash to a bucket in [0, numBuckets).
//
// When numBuckets grows from n to n+1, only 1/(n+1) of the keys move, all to the
// new bucket. Algorithm from Lamping and Veach, "A Fast, Minimal Memory,
// Consistent Hash Algorithm" (https://arxiv.org/abs/1406.2294).
func JumpHash(key uint64, numBuckets int) int {
	if numBuckets <= 1 {
		return 0
	}

	bucket, next := int64(-1), int64(0)
	for next < int64(numBuckets) {
		bucket = next
		key = key*2862933555777941757 + 1
		next = int64(float64(bucket+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(bucket)
}
