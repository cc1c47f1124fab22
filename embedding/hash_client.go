package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashClient is a deterministic, offline embedding fallback: it derives a
// fixed-length unit vector from a SHA-256 stream seeded by the input text,
// with no network dependency, for tests and environments without a
// configured embedding provider. Two calls with the same text always
// return the same vector; unrelated texts are effectively orthogonal.
type HashClient struct {
	dims int
}

// NewHashClient constructs a HashClient producing vectors of length dims.
// dims <= 0 defaults to 256.
func NewHashClient(dims int) *HashClient {
	if dims <= 0 {
		dims = 256
	}
	return &HashClient{dims: dims}
}

func (c *HashClient) Dimensions() int { return c.dims }

func (c *HashClient) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, c.dims)
	seed := []byte(text)
	block := sha256.Sum256(seed)
	idx := 0
	counter := uint32(0)
	for idx < c.dims {
		h := sha256.New()
		h.Write(block[:])
		var ctr [4]byte
		binary.BigEndian.PutUint32(ctr[:], counter)
		h.Write(ctr[:])
		digest := h.Sum(nil)
		for i := 0; i+4 <= len(digest) && idx < c.dims; i += 4 {
			u := binary.BigEndian.Uint32(digest[i : i+4])
			// Map to [-1, 1).
			v := (float64(u) / float64(math.MaxUint32) * 2) - 1
			vec[idx] = float32(v)
			idx++
		}
		counter++
	}
	normalize(vec)
	return vec, nil
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
