package usecase

import (
	"fmt"
	"math"
)

// scoreEpsilon treats near-equal similarity scores as ties.
const scoreEpsilon = 1e-9

func meanPool(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors to pool")
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("empty embedding vector")
	}

	sum := make([]float64, dim)
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vec), dim)
		}
		for j, v := range vec {
			sum[j] += float64(v)
		}
	}

	out := make([]float32, dim)
	var norm float64
	for j := range sum {
		sum[j] /= float64(len(vectors))
		norm += sum[j] * sum[j]
	}
	norm = math.Sqrt(norm)
	for j := range sum {
		if norm == 0 {
			out[j] = float32(sum[j])
			continue
		}
		out[j] = float32(sum[j] / norm)
	}
	return out, nil
}

func scoresTie(a, b float64) bool {
	return math.Abs(a-b) <= scoreEpsilon
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
