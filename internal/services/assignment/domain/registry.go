package domain

import (
	"fmt"

	apperrors "github.com/louisbranch/divergence.space/internal/platform/errors"
)

// Weights maps variant names to integer weights for one split.
type Weights map[string]int

// Total returns the sum of all variant weights.
func (w Weights) Total() int {
	total := 0
	for _, weight := range w {
		total += weight
	}
	return total
}

// Registry is an immutable snapshot of split definitions, keyed by split
// name. A registry is loaded at most once per session turn; staleness across
// turns is acceptable.
type Registry map[string]Weights

// Split returns the weights for a split name.
func (r Registry) Split(name string) (Weights, bool) {
	weights, ok := r[name]
	return weights, ok
}

// ValidateRegistry checks that every split's weights are non-negative and
// sum to 100.
func ValidateRegistry(r Registry) error {
	for name, weights := range r {
		for variant, weight := range weights {
			if weight < 0 {
				return apperrors.WithMetadata(apperrors.CodeSplitWeightNegative,
					fmt.Sprintf("split %q variant %q has negative weight %d", name, variant, weight),
					map[string]string{"split": name, "variant": variant})
			}
		}
		if total := weights.Total(); total != 100 {
			return apperrors.WithMetadata(apperrors.CodeSplitWeightSum,
				fmt.Sprintf("split %q weights sum to %d, want 100", name, total),
				map[string]string{"split": name})
		}
	}
	return nil
}
