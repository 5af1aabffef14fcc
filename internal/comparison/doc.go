// Package comparison measures how far a set of backend conclusions agree.
//
// Three layers are computed for every round:
//
//   - Semantic: term-frequency cosine similarity of the conclusions,
//     averaged over every pair.
//   - Structural: intersection and union of each backend's proposed steps.
//   - Hash: SHA-256 of a canonical form of each conclusion, grouped.
//
// Full consensus needs all three at once. Near-identical wording can hide
// different recommendations, so semantic alignment alone never suffices.
package comparison
