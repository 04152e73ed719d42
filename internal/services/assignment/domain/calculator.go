package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// CalculateVariant deterministically picks a variant for a visitor and split.
//
// A stable bucket in [0, 100) is derived from a SHA-256 hash of the visitor
// id concatenated with the split name, so one visitor lands in
// independent-looking buckets across splits but in the same bucket on every
// call. Variants are walked in sorted name order, accumulating weights; the
// first variant whose cumulative weight exceeds the bucket wins. Zero-weight
// variants never advance the cumulative total and are therefore unreachable.
// When weights never cover the bucket (empty map, zero sum, or a sum below
// 100) the result is empty: missing weight is unreachable.
func CalculateVariant(visitorID, splitName string, weights Weights) string {
	if len(weights) == 0 {
		return ""
	}

	bucket := assignmentBucket(visitorID, splitName)

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	cumulative := 0
	for _, name := range names {
		weight := weights[name]
		if weight <= 0 {
			continue
		}
		cumulative += weight
		if cumulative > bucket {
			return name
		}
	}
	return ""
}

// assignmentBucket derives the visitor's stable bucket in [0, 100) for one
// split.
func assignmentBucket(visitorID, splitName string) int {
	sum := sha256.Sum256([]byte(visitorID + splitName))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}
