package comparison

import (
	"math"
	"strings"
	"unicode"
)

// SemanticResult is the semantic layer of a comparison.
type SemanticResult struct {
	// Score is the mean pairwise cosine similarity.
	Score   float64     `json:"score"`
	Aligned bool        `json:"aligned"`
	Matrix  [][]float64 `json:"matrix,omitempty"`
	// Clusters are index groups of similar texts, seeded greedily in order.
	Clusters [][]int `json:"clusters,omitempty"`
}

// Normalize lowercases s and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits s into lowercase runs of letters and digits.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func termFrequency(s string) map[string]float64 {
	tf := make(map[string]float64)
	for _, tok := range Tokenize(Normalize(s)) {
		tf[tok]++
	}
	return tf
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for term, x := range a {
		na += x * x
		if y, ok := b[term]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding drift so identical texts score exactly 1.
	return math.Min(1, math.Max(0, sim))
}

// Similarity returns the term-frequency cosine similarity of two texts.
func Similarity(a, b string) float64 {
	return cosine(termFrequency(a), termFrequency(b))
}

// Semantic compares texts pairwise. Fewer than two texts never align.
func Semantic(texts []string, threshold, clusterThreshold float64) SemanticResult {
	n := len(texts)
	vectors := make([]map[string]float64, n)
	for i, t := range texts {
		vectors[i] = termFrequency(t)
	}

	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1
	}
	var sum float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := cosine(vectors[i], vectors[j])
			matrix[i][j], matrix[j][i] = sim, sim
			sum += sim
			pairs++
		}
	}

	res := SemanticResult{Matrix: matrix, Clusters: cluster(matrix, clusterThreshold)}
	if pairs > 0 {
		res.Score = sum / float64(pairs)
		res.Aligned = res.Score >= threshold
	}
	return res
}

// cluster groups indices greedily: each unvisited index seeds a cluster and
// absorbs later unvisited indices at least threshold similar to the seed.
func cluster(matrix [][]float64, threshold float64) [][]int {
	n := len(matrix)
	visited := make([]bool, n)
	var clusters [][]int
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		group := []int{i}
		for j := i + 1; j < n; j++ {
			if !visited[j] && matrix[i][j] >= threshold {
				group = append(group, j)
				visited[j] = true
			}
		}
		clusters = append(clusters, group)
	}
	return clusters
}
