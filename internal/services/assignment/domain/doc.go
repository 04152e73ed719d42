// Package domain defines the split-testing assignment model: the split
// registry snapshot, the deterministic variant calculator, assignments, and
// the visitor aggregate that memoizes them for one request turn.
package domain
