// Package session orchestrates one request/response cycle of visitor
// assignment state.
//
// A session moves through four states: Unresolved until the visitor is first
// accessed, Active while the caller's business logic runs, Finalizing while
// cookies are persisted and new assignments dispatched, and Closed once the
// response state is written. One session belongs to exactly one
// request/response cycle and is not safe for concurrent use.
package session

import (
	"context"
	"log"
	"time"

	apperrors "github.com/louisbranch/divergence.space/internal/platform/errors"
	"github.com/louisbranch/divergence.space/internal/platform/id"
	"github.com/louisbranch/divergence.space/internal/services/assignment/domain"
	"github.com/louisbranch/divergence.space/internal/services/assignment/platform/cookies"
	"github.com/louisbranch/divergence.space/internal/telemetry"
)

// State describes the session lifecycle state.
type State int

const (
	// StateUnresolved means the visitor has not been accessed yet.
	StateUnresolved State = iota
	// StateActive means the visitor is resolved and queries may run.
	StateActive
	// StateFinalizing means turn-end persistence is in progress.
	StateFinalizing
	// StateClosed means response state has been written; no further
	// mutation is permitted.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RegistryLoader supplies the split configuration snapshot for one turn.
type RegistryLoader interface {
	LoadSplitRegistry(ctx context.Context) (domain.Registry, error)
	APIURL() string
}

// AssignmentLoader supplies the persisted assignment registry for a resumed
// visitor identity.
type AssignmentLoader interface {
	LoadAssignmentRegistry(ctx context.Context, visitorID string) (map[string]string, error)
}

// Dispatcher hands off one notification per turn that produced new
// assignments. Implementations must not block the response path on delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, distinctID, visitorID string, newAssignments map[string]string)
}

// Config wires one session turn. Jar is required; every other collaborator
// is optional and degrades to a narrower turn when absent.
type Config struct {
	// Jar is the cookie read/write capability for this turn.
	Jar cookies.Jar
	// Host is the inbound request host used for cookie scoping.
	Host string
	// Secure reports whether the inbound request was transport-encrypted.
	Secure bool
	// Registry loads the split snapshot. When nil the turn has no registry
	// and unseen splits resolve to no variant.
	Registry RegistryLoader
	// Assignments loads a resumed visitor's persisted registry. When nil
	// resumed visitors start from an empty registry.
	Assignments AssignmentLoader
	// Identity resolves log-in identities. Required only for LogIn.
	Identity domain.IdentityService
	// Dispatcher receives the turn's new assignments, if any.
	Dispatcher Dispatcher
	// Offline forces the visitor to never produce new calculated variants.
	Offline bool
	// Telemetry records recoverable diagnostics. Optional.
	Telemetry *telemetry.Emitter
	// Now supplies the turn clock; defaults to time.Now.
	Now func() time.Time
	// NewVisitorID mints fresh identifiers; defaults to id.NewVisitorID.
	NewVisitorID func() (string, error)
	// Logf receives operational log lines; defaults to log.Printf.
	Logf func(string, ...any)
}

// Session carries assignment state across one request/response cycle.
type Session struct {
	cfg           Config
	state         State
	visitor       *domain.Visitor
	splitRegistry domain.Registry
	correlation   map[string]any
}

// New constructs a session for one turn.
func New(cfg Config) (*Session, error) {
	if cfg.Jar == nil {
		return nil, apperrors.New(apperrors.CodeSessionUnmanaged, "cookie jar is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewVisitorID == nil {
		cfg.NewVisitorID = id.NewVisitorID
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	return &Session{cfg: cfg, state: StateUnresolved}, nil
}

// State returns the session lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Visitor returns the turn's authoritative visitor, resolving it on first
// access.
func (s *Session) Visitor(ctx context.Context) (*domain.Visitor, error) {
	if s.state == StateFinalizing || s.state == StateClosed {
		return nil, apperrors.New(apperrors.CodeSessionClosed, "session is finalized")
	}
	if s.state == StateUnresolved {
		if err := s.resolve(ctx); err != nil {
			return nil, err
		}
	}
	return s.visitor, nil
}

// AssignmentFor resolves the visitor's assignment for a split name.
func (s *Session) AssignmentFor(ctx context.Context, splitName string) (domain.Assignment, error) {
	if splitName == "" {
		return domain.Assignment{}, apperrors.New(apperrors.CodeSplitNameEmpty, "split name is required")
	}
	visitor, err := s.Visitor(ctx)
	if err != nil {
		return domain.Assignment{}, err
	}
	return visitor.AssignmentFor(splitName), nil
}

// Ab reports whether the visitor's assignment for splitName equals variant.
func (s *Session) Ab(ctx context.Context, splitName, variant string) (bool, error) {
	assignment, err := s.AssignmentFor(ctx, splitName)
	if err != nil {
		return false, err
	}
	return assignment.Variant() == variant, nil
}

// LogIn swaps the turn's authoritative identity for one resolved against the
// remote identity service. A failure here is fatal to the turn: the session
// cannot safely proceed without a resolved identity.
func (s *Session) LogIn(ctx context.Context, identifierType, value string) error {
	visitor, err := s.Visitor(ctx)
	if err != nil {
		return err
	}
	replacement, err := visitor.LogIn(ctx, s.cfg.Identity, identifierType, value)
	if err != nil {
		return err
	}
	s.visitor = replacement
	return nil
}

// Manage runs fn with guaranteed finalization on every exit path. When fn
// panics, turn state is still persisted before the panic propagates.
func (s *Session) Manage(ctx context.Context, fn func(*Session) error) (err error) {
	if fn == nil {
		return apperrors.New(apperrors.CodeSessionUnmanaged, "managed block is required")
	}
	if s.state == StateClosed {
		return apperrors.New(apperrors.CodeSessionClosed, "session is already closed")
	}
	defer func() {
		finalizeErr := s.Finalize(ctx)
		if err == nil {
			err = finalizeErr
		} else if finalizeErr != nil {
			s.cfg.Logf("finalize session: %v", finalizeErr)
		}
	}()
	return fn(s)
}

// Finalize persists cookie state and dispatches the turn's new assignments.
// It resolves the visitor first when the turn never touched it, so identity
// and correlation cookies are written on every turn. Finalize is idempotent;
// a closed session is left untouched.
func (s *Session) Finalize(ctx context.Context) error {
	if s.state == StateFinalizing || s.state == StateClosed {
		return nil
	}
	if s.state == StateUnresolved {
		if err := s.resolve(ctx); err != nil {
			s.state = StateClosed
			return err
		}
	}
	s.state = StateFinalizing
	defer func() { s.state = StateClosed }()

	visitor := s.visitor
	newAssignments := visitor.NewAssignments()

	policy := cookies.Policy{Host: s.cfg.Host, Secure: s.cfg.Secure, Now: s.cfg.Now}
	cookies.WriteIdentity(s.cfg.Jar, policy, visitor.ID())

	correlation := s.correlation
	if correlation == nil {
		correlation = map[string]any{}
	}
	correlation[cookies.DistinctIDKey] = visitor.ID()
	if err := cookies.WriteCorrelation(s.cfg.Jar, policy, correlation); err != nil {
		return err
	}

	if len(newAssignments) > 0 && s.cfg.Dispatcher != nil {
		s.cfg.Dispatcher.Dispatch(ctx, visitor.ID(), visitor.ID(), newAssignments)
	}
	return nil
}

// resolve moves the session from Unresolved to Active: it establishes the
// visitor identity from persisted state, loads the split snapshot, and
// recovers correlation data.
func (s *Session) resolve(ctx context.Context) error {
	visitorID, resumed := s.resolveIdentity()
	offline := s.cfg.Offline

	var splitRegistry domain.Registry
	if s.cfg.Registry != nil {
		loaded, err := s.cfg.Registry.LoadSplitRegistry(ctx)
		if err != nil {
			s.cfg.Logf("load split registry: %v", err)
			offline = true
		} else {
			splitRegistry = loaded
		}
	}

	var assignmentRegistry map[string]string
	if resumed && s.cfg.Assignments != nil {
		loaded, err := s.cfg.Assignments.LoadAssignmentRegistry(ctx, visitorID)
		if err != nil {
			s.cfg.Logf("load assignment registry for visitor %s: %v", visitorID, err)
			offline = true
		} else {
			assignmentRegistry = loaded
		}
	}

	s.resolveCorrelation(ctx)

	visitor, err := domain.NewVisitor(domain.VisitorConfig{
		ID:                 visitorID,
		Offline:            offline,
		AssignmentRegistry: assignmentRegistry,
		SplitRegistry:      splitRegistry,
	})
	if err != nil {
		return err
	}
	s.visitor = visitor
	s.splitRegistry = splitRegistry
	s.state = StateActive
	return nil
}

// resolveIdentity returns the turn's visitor id and whether it was resumed
// from persisted state. A malformed identity cookie is treated the same as
// an absent one.
func (s *Session) resolveIdentity() (string, bool) {
	if value, ok := cookies.ReadIdentity(s.cfg.Jar); ok && id.IsWellFormed(value) {
		return value, true
	}
	minted, err := s.cfg.NewVisitorID()
	if err != nil {
		s.cfg.Logf("mint visitor id: %v", err)
		return "", false
	}
	return minted, false
}

// resolveCorrelation parses the correlation cookie, logging a diagnostic
// with the raw payload and proceeding without correlation data when it is
// malformed.
func (s *Session) resolveCorrelation(ctx context.Context) {
	correlation, raw, err := cookies.ReadCorrelation(s.cfg.Jar)
	if err != nil {
		s.cfg.Logf("correlation cookie unparseable, resetting: %v (payload %q)", err, raw)
		if emitErr := s.cfg.Telemetry.Emit(ctx, telemetry.Event{
			Severity:  telemetry.SeverityWarn,
			Component: "session",
			Message:   "correlation cookie unparseable",
			Detail:    raw,
		}); emitErr != nil {
			s.cfg.Logf("emit correlation diagnostic: %v", emitErr)
		}
		return
	}
	s.correlation = correlation
}
