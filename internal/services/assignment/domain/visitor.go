package domain

import (
	"context"
	"strings"

	apperrors "github.com/louisbranch/divergence.space/internal/platform/errors"
)

// Identity is a visitor identity resolved by the remote identity service.
type Identity struct {
	VisitorID          string
	AssignmentRegistry map[string]string
}

// IdentityService resolves or creates a visitor identity for an external
// identifier, returning that identity's persisted assignment registry.
type IdentityService interface {
	CreateIdentity(ctx context.Context, identifierType, value string) (Identity, error)
}

// VisitorConfig describes how to construct a visitor for one session turn.
type VisitorConfig struct {
	// ID is the visitor's stable identifier. Required.
	ID string
	// Offline suppresses calculation of new variants. Persisted assignments
	// remain visible.
	Offline bool
	// AssignmentRegistry is the visitor's persisted split-to-variant mapping
	// as known at resolution time. May be nil.
	AssignmentRegistry map[string]string
	// SplitRegistry is the split snapshot for this turn. May be nil, in
	// which case every unseen split resolves to no variant.
	SplitRegistry Registry
}

// Visitor aggregates one identity's assignment state for a single session
// turn. It memoizes assignments per split name so repeated queries within
// the turn resolve exactly once. A visitor is not safe for concurrent use;
// one visitor belongs to one request cycle.
type Visitor struct {
	id            string
	offline       bool
	registry      map[string]string
	splitRegistry Registry
	memo          map[string]Assignment
}

// NewVisitor constructs a visitor from config.
func NewVisitor(cfg VisitorConfig) (*Visitor, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, apperrors.New(apperrors.CodeVisitorIDEmpty, "visitor id is required")
	}
	registry := make(map[string]string, len(cfg.AssignmentRegistry))
	for split, variant := range cfg.AssignmentRegistry {
		registry[split] = variant
	}
	return &Visitor{
		id:            cfg.ID,
		offline:       cfg.Offline,
		registry:      registry,
		splitRegistry: cfg.SplitRegistry,
		memo:          make(map[string]Assignment),
	}, nil
}

// ID returns the visitor's stable identifier.
func (v *Visitor) ID() string {
	return v.id
}

// Offline reports whether the visitor suppresses new variant calculation.
func (v *Visitor) Offline() bool {
	return v.offline
}

// AssignmentRegistry returns the visitor's persisted assignments as known at
// resolution time. The returned map is a copy.
func (v *Visitor) AssignmentRegistry() map[string]string {
	snapshot := make(map[string]string, len(v.registry))
	for split, variant := range v.registry {
		snapshot[split] = variant
	}
	return snapshot
}

// SplitRegistry returns the split snapshot for this turn.
func (v *Visitor) SplitRegistry() Registry {
	return v.splitRegistry
}

// AssignmentFor resolves the assignment for a split name, memoized for the
// visitor's lifetime. Querying the same split twice performs calculation
// exactly once and contributes to the turn's new assignments at most once.
func (v *Visitor) AssignmentFor(splitName string) Assignment {
	if assignment, ok := v.memo[splitName]; ok {
		return assignment
	}
	assignment := NewAssignment(v, splitName)
	v.memo[splitName] = assignment
	return assignment
}

// Ab reports whether the visitor's assignment for splitName resolves to
// variant.
func (v *Visitor) Ab(splitName, variant string) bool {
	return v.AssignmentFor(splitName).Variant() == variant
}

// NewAssignments returns the split-to-variant mapping for every assignment
// touched this turn that is still unsynced and resolved to a variant.
func (v *Visitor) NewAssignments() map[string]string {
	updates := make(map[string]string)
	for splitName, assignment := range v.memo {
		if !assignment.Unsynced() {
			continue
		}
		if assignment.Variant() == "" {
			continue
		}
		updates[splitName] = assignment.Variant()
	}
	return updates
}

// FinalAssignmentRegistry returns the persisted registry merged with every
// variant resolved during this turn, captured at turn end for persistence.
func (v *Visitor) FinalAssignmentRegistry() map[string]string {
	final := v.AssignmentRegistry()
	for splitName, variant := range v.NewAssignments() {
		final[splitName] = variant
	}
	return final
}

// LogIn replaces this visitor with one resolved against the remote identity
// service. The returned visitor is the turn's new authoritative identity; it
// inherits the current split registry and offline mode but only the
// assignment state the identity service reports as persisted.
func (v *Visitor) LogIn(ctx context.Context, svc IdentityService, identifierType, value string) (*Visitor, error) {
	if strings.TrimSpace(identifierType) == "" {
		return nil, apperrors.New(apperrors.CodeIdentifierTypeEmpty, "identifier type is required")
	}
	if strings.TrimSpace(value) == "" {
		return nil, apperrors.New(apperrors.CodeIdentifierValueEmpty, "identifier value is required")
	}
	if svc == nil {
		return nil, apperrors.New(apperrors.CodeIdentityUnavailable, "identity service is not configured")
	}
	identity, err := svc.CreateIdentity(ctx, identifierType, value)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIdentityUnavailable, "create identity", err)
	}
	if strings.TrimSpace(identity.VisitorID) == "" {
		return nil, apperrors.New(apperrors.CodeIdentityMalformed, "identity service returned an empty visitor id")
	}
	return NewVisitor(VisitorConfig{
		ID:                 identity.VisitorID,
		Offline:            v.offline,
		AssignmentRegistry: identity.AssignmentRegistry,
		SplitRegistry:      v.splitRegistry,
	})
}
