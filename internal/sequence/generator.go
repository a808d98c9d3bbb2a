// Package sequence produces the directional unlock codes shared by every peer
// of a session.
package sequence

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

var (
	// ErrInvalidLength is returned when a sequence of zero or negative length is requested.
	ErrInvalidLength = errors.New("sequence: length must be positive")
	// ErrEmptyAlphabet is returned when there is no token to draw from.
	ErrEmptyAlphabet = errors.New("sequence: alphabet is empty")
	// ErrInvalidToken is returned when the alphabet holds a value that is not a direction.
	ErrInvalidToken = errors.New("sequence: alphabet contains an invalid direction")
)

// pcgStream is the fixed second PCG word. Changing it changes every code.
const pcgStream = 0x9e3779b97f4a7c15

// Generate returns length tokens drawn uniformly and independently from
// alphabet. The same arguments always produce the same sequence.
func Generate(length int, alphabet []Direction, seed uint64) ([]Direction, error) {
	if length <= 0 {
		return nil, ErrInvalidLength
	}
	if len(alphabet) == 0 {
		return nil, ErrEmptyAlphabet
	}
	for _, d := range alphabet {
		if !d.IsValid() {
			return nil, fmt.Errorf("%w: %d", ErrInvalidToken, d)
		}
	}

	rng := rand.New(rand.NewPCG(seed, pcgStream))
	out := make([]Direction, length)
	for i := range out {
		out[i] = alphabet[rng.IntN(len(alphabet))]
	}
	return out, nil
}

// PuzzleSeed derives the seed of one lock from the session seed, so that a
// single shared session seed yields an independent code per lock.
func PuzzleSeed(sessionSeed int64, puzzleID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(puzzleID))
	return h.Sum64() ^ uint64(sessionSeed)
}
