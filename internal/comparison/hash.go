package comparison

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// HashResult is the canonical-hash layer of a comparison.
type HashResult struct {
	MatchRatio     float64             `json:"match_ratio"`
	DominantDigest string              `json:"dominant_digest"`
	Dominant       []string            `json:"dominant"`
	Minority       []string            `json:"minority"`
	Groups         map[string][]string `json:"groups"`
}

// Canonical lowercases s, strips punctuation, collapses whitespace and sorts
// the tokens so that case, spacing and word order do not matter.
func Canonical(s string) string {
	tokens := Tokenize(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Digest returns the hex SHA-256 of the canonical form of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(Canonical(s)))
	return hex.EncodeToString(sum[:])
}

// Hash groups backends by conclusion digest. The dominant group is the
// largest; ties go to the lexicographically smallest digest.
func Hash(backends, conclusions []string) HashResult {
	res := HashResult{Groups: make(map[string][]string), Dominant: []string{}, Minority: []string{}}
	if len(backends) == 0 {
		return res
	}

	digests := make([]string, len(backends))
	for i, c := range conclusions {
		d := Digest(c)
		digests[i] = d
		res.Groups[d] = append(res.Groups[d], backends[i])
	}

	for d, members := range res.Groups {
		best := len(res.Groups[res.DominantDigest])
		if res.DominantDigest == "" || len(members) > best || (len(members) == best && d < res.DominantDigest) {
			res.DominantDigest = d
		}
	}
	for i, b := range backends {
		if digests[i] == res.DominantDigest {
			res.Dominant = append(res.Dominant, b)
		} else {
			res.Minority = append(res.Minority, b)
		}
	}
	res.MatchRatio = float64(len(res.Dominant)) / float64(len(backends))
	return res
}
