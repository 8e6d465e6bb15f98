package evidence

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// nearDuplicateDistance is the largest Hamming distance at which two context
// windows count as the same snippet.
const nearDuplicateDistance = 3

// Fingerprint computes a 64-bit SimHash of the given text.
// Uses FNV-64a hash on lower-cased word tokens with bit vector accumulation.
func Fingerprint(text string) uint64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	var vector [64]int
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fingerprint uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fingerprint |= 1 << uint(i)
		}
	}
	return fingerprint
}

// Distance returns the Hamming distance between two SimHash fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// nearDuplicates remembers the fingerprints of kept snippets.
type nearDuplicates struct {
	threshold int
	kept      []uint64
}

func newNearDuplicates(threshold int) *nearDuplicates {
	return &nearDuplicates{threshold: threshold}
}

// add reports whether window is new and records it if so.
func (d *nearDuplicates) add(window string) bool {
	fp := Fingerprint(window)
	for _, k := range d.kept {
		if Distance(fp, k) <= d.threshold {
			return false
		}
	}
	d.kept = append(d.kept, fp)
	return true
}
