package comparison

import (
	"math"
	"sort"

	"github.com/Iron-Ham/concord/internal/ai"
)

// Default thresholds.
const (
	DefaultSemanticThreshold = 0.9
	DefaultClusterThreshold  = 0.3
)

// Cluster is a group of backends with similar conclusions.
type Cluster struct {
	Backends   []string `json:"backends"`
	Conclusion string   `json:"conclusion"`
	Steps      []string `json:"steps,omitempty"`
}

// Result is the comparison of one round's analyses.
type Result struct {
	Backends      []string         `json:"backends"`
	Semantic      SemanticResult   `json:"semantic"`
	Structural    StructuralResult `json:"structural"`
	Hash          HashResult       `json:"hash"`
	Clusters      []Cluster        `json:"clusters"`
	FullConsensus bool             `json:"full_consensus"`
}

// Composite is the mean of the three layer scores.
func (r *Result) Composite() float64 {
	return (r.Semantic.Score + r.Structural.Ratio + r.Hash.MatchRatio) / 3
}

// DominantCluster returns the largest cluster; ties go to the earlier one.
func (r *Result) DominantCluster() (Cluster, bool) {
	if len(r.Clusters) == 0 {
		return Cluster{}, false
	}
	best := r.Clusters[0]
	for _, c := range r.Clusters[1:] {
		if len(c.Backends) > len(best.Backends) {
			best = c
		}
	}
	return best, true
}

// Engine compares analyses with configured thresholds.
type Engine struct {
	semanticThreshold float64
	clusterThreshold  float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithSemanticThreshold sets the semantic alignment threshold.
func WithSemanticThreshold(v float64) Option {
	return func(e *Engine) { e.semanticThreshold = v }
}

// WithClusterThreshold sets the similarity needed to join a cluster.
func WithClusterThreshold(v float64) Option {
	return func(e *Engine) { e.clusterThreshold = v }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		semanticThreshold: DefaultSemanticThreshold,
		clusterThreshold:  DefaultClusterThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compare computes all layers over results. Input order does not matter;
// results are ordered by backend name. Fewer than two results never reach
// full consensus.
func (e *Engine) Compare(results []*ai.AnalysisResult) *Result {
	sorted := make([]*ai.AnalysisResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Backend < sorted[j].Backend })

	backends := make([]string, len(sorted))
	conclusions := make([]string, len(sorted))
	steps := make([][]string, len(sorted))
	for i, r := range sorted {
		backends[i] = r.Backend
		conclusions[i] = r.Conclusion
		steps[i] = r.Steps
	}

	res := &Result{
		Backends:   backends,
		Semantic:   Semantic(conclusions, e.semanticThreshold, e.clusterThreshold),
		Structural: Structural(steps),
		Hash:       Hash(backends, conclusions),
	}
	for _, idx := range res.Semantic.Clusters {
		c := Cluster{Conclusion: conclusions[idx[0]], Steps: steps[idx[0]]}
		for _, i := range idx {
			c.Backends = append(c.Backends, backends[i])
		}
		res.Clusters = append(res.Clusters, c)
	}

	res.FullConsensus = len(sorted) >= 2 &&
		res.Semantic.Aligned &&
		len(res.Structural.Disputed) == 0 &&
		res.Hash.MatchRatio == 1
	return res
}

// Round rounds v to four decimals for reporting.
func Round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
