package rng

import (
	"encoding/binary"

	"github.com/aead/chacha20/chacha"
	"github.com/hhcho/frand"
)

const (
	bufferSize int = 1024
	rounds     int = 20
)

// PermutationSource draws reproducible sample permutations. Permutation k
// comes from its own ChaCha stream keyed by (seed, k), so the draws do not
// depend on which worker computes them or in which order.
type PermutationSource struct {
	seed uint64
}

func NewPermutationSource(seed uint64) *PermutationSource {
	return &PermutationSource{seed: seed}
}

func (src *PermutationSource) Seed() uint64 {
	return src.seed
}

// Stream returns the PRG for permutation index.
func (src *PermutationSource) Stream(index int) *frand.RNG {
	key := make([]byte, chacha.KeySize)
	binary.LittleEndian.PutUint64(key[0:8], src.seed)
	binary.LittleEndian.PutUint64(key[8:16], uint64(index))
	return frand.NewCustom(key, bufferSize, rounds)
}

// Permutation returns permutation index of 0..n-1 (Fisher-Yates).
func (src *PermutationSource) Permutation(index, n int) []int {
	prg := src.Stream(index)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := prg.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// Permutations returns the first count permutations of 0..n-1.
func (src *PermutationSource) Permutations(count, n int) [][]int {
	out := make([][]int, count)
	for k := range out {
		out[k] = src.Permutation(k, n)
	}
	return out
}
