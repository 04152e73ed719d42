package domain

import "strings"

// featureGateSuffix marks splits that act as boolean feature gates.
const featureGateSuffix = "_enabled"

// VisitorState is the capability surface an assignment needs from its
// visitor.
type VisitorState interface {
	ID() string
	Offline() bool
	AssignmentRegistry() map[string]string
	SplitRegistry() Registry
}

// Assignment pairs a split name with the variant resolved for one visitor.
// It is immutable after construction. The variant is empty when the split is
// unknown, the visitor is offline with no persisted value, or calculation
// yields no selection.
type Assignment struct {
	splitName string
	variant   string
	unsynced  bool
}

// NewAssignment resolves an assignment for the visitor and split name.
//
// A previously persisted variant in the visitor's assignment registry wins;
// otherwise the variant is calculated, unless the visitor is offline, in
// which case unseen splits resolve to no variant. Every constructed
// assignment reports itself unsynced: sync state is evaluated before any
// persistence round-trip, not by comparing against stored state.
func NewAssignment(visitor VisitorState, splitName string) Assignment {
	assignment := Assignment{splitName: splitName, unsynced: true}
	if visitor == nil {
		return assignment
	}
	if variant, ok := visitor.AssignmentRegistry()[splitName]; ok {
		assignment.variant = variant
		return assignment
	}
	if visitor.Offline() {
		return assignment
	}
	weights, ok := visitor.SplitRegistry().Split(splitName)
	if !ok {
		return assignment
	}
	assignment.variant = CalculateVariant(visitor.ID(), splitName, weights)
	return assignment
}

// SplitName returns the split this assignment belongs to.
func (a Assignment) SplitName() string {
	return a.splitName
}

// Variant returns the resolved variant, empty when none was selected.
func (a Assignment) Variant() string {
	return a.variant
}

// Unsynced reports whether the assignment is a candidate for notification.
func (a Assignment) Unsynced() bool {
	return a.unsynced
}

// FeatureGate reports whether the split is a feature gate by naming
// convention.
func (a Assignment) FeatureGate() bool {
	return strings.HasSuffix(a.splitName, featureGateSuffix)
}
