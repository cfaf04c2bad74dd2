package retrieval

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
)

// vectorIndexVersion is bumped whenever vectorIndexBlob changes shape.
const vectorIndexVersion = 1

var (
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidDimension is returned for a non-positive dimension.
	ErrInvalidDimension = errors.New("vector dimension must be positive")
)

// Neighbor is one search hit: the chunk ordinal and its squared L2 distance
// to the query.
type Neighbor struct {
	Ordinal  int
	Distance float32
}

// VectorIndex is a flat, exhaustive nearest-neighbor index. Position i holds
// the vector of chunk ordinal i.
type VectorIndex struct {
	dim     int
	vectors [][]float32
}

// NewVectorIndex creates an empty index of the given dimension.
func NewVectorIndex(dim int) (*VectorIndex, error) {
	if dim <= 0 {
		return nil, ErrInvalidDimension
	}
	return &VectorIndex{dim: dim}, nil
}

// Add appends vectors in order. Nothing is added if any vector has the wrong
// dimension.
func (v *VectorIndex) Add(vectors ...[]float32) error {
	for i, vec := range vectors {
		if len(vec) != v.dim {
			return fmt.Errorf("vector %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(vec), v.dim)
		}
	}
	for _, vec := range vectors {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		v.vectors = append(v.vectors, cp)
	}
	return nil
}

// Dimensions returns the vector dimension.
func (v *VectorIndex) Dimensions() int {
	return v.dim
}

// Len returns the number of stored vectors.
func (v *VectorIndex) Len() int {
	if v == nil {
		return 0
	}
	return len(v.vectors)
}

// Vector returns the vector stored at position i.
func (v *VectorIndex) Vector(i int) []float32 {
	return v.vectors[i]
}

// Search returns the min(k, Len()) nearest positions by ascending squared
// Euclidean distance. Equal distances are ordered by ordinal.
func (v *VectorIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != v.dim {
		return nil, fmt.Errorf("query: %w: got %d, want %d", ErrDimensionMismatch, len(query), v.dim)
	}
	if k <= 0 || len(v.vectors) == 0 {
		return []Neighbor{}, nil
	}

	hits := make([]Neighbor, len(v.vectors))
	for i, vec := range v.vectors {
		hits[i] = Neighbor{Ordinal: i, Distance: squaredL2(query, vec)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

type vectorIndexBlob struct {
	Version int
	Dim     int
	Vectors [][]float32
}

// MarshalBinary encodes the index with encoding/gob.
func (v *VectorIndex) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	blob := vectorIndexBlob{Version: vectorIndexVersion, Dim: v.dim, Vectors: v.vectors}
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, fmt.Errorf("failed to encode vector index: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an index written by MarshalBinary.
func (v *VectorIndex) UnmarshalBinary(data []byte) error {
	var blob vectorIndexBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return fmt.Errorf("failed to decode vector index: %w", err)
	}
	if blob.Version != vectorIndexVersion {
		return fmt.Errorf("unsupported vector index version %d", blob.Version)
	}
	if blob.Dim <= 0 {
		return ErrInvalidDimension
	}
	for i, vec := range blob.Vectors {
		if len(vec) != blob.Dim {
			return fmt.Errorf("vector %d: %w", i, ErrDimensionMismatch)
		}
	}
	v.dim = blob.Dim
	v.vectors = blob.Vectors
	return nil
}
