// Package http exposes visitor assignment state over the HTTP API: hydration
// state for browser clients, single split lookups, and identifier log-in.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/divergence.space/internal/platform/errors"
	"github.com/louisbranch/divergence.space/internal/services/assignment/domain"
	"github.com/louisbranch/divergence.space/internal/services/assignment/platform/cookies"
	"github.com/louisbranch/divergence.space/internal/services/assignment/platform/requestmeta"
	"github.com/louisbranch/divergence.space/internal/services/assignment/session"
	"github.com/louisbranch/divergence.space/internal/telemetry"
)

// Deps wires the collaborators shared by every request-scoped session.
type Deps struct {
	Registry    session.RegistryLoader
	Assignments session.AssignmentLoader
	Identity    domain.IdentityService
	Dispatcher  session.Dispatcher
	Scheme      requestmeta.SchemePolicy
	Telemetry   *telemetry.Emitter
	Offline     bool
	Logf        func(string, ...any)
}

// Handler serves the assignment HTTP API.
type Handler struct {
	deps Deps
}

// NewHandler creates the API handler. A nil Logf defaults to log.Printf.
func NewHandler(deps Deps) *Handler {
	if deps.Logf == nil {
		deps.Logf = log.Printf
	}
	return &Handler{deps: deps}
}

// Routes registers the API endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc(http.MethodGet+" /api/v1/hydrate", h.handleHydrate)
	mux.HandleFunc(http.MethodGet+" /api/v1/split/{name}", h.handleSplit)
	mux.HandleFunc(http.MethodPost+" /api/v1/identifier", h.handleIdentifier)
}

// newSession builds the session for one request/response cycle.
func (h *Handler) newSession(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	return session.New(session.Config{
		Jar:         cookies.NewHTTPJar(w, r),
		Host:        requestmeta.Host(r),
		Secure:      requestmeta.IsHTTPSWithPolicy(r, h.deps.Scheme),
		Registry:    h.deps.Registry,
		Assignments: h.deps.Assignments,
		Identity:    h.deps.Identity,
		Dispatcher:  h.deps.Dispatcher,
		Offline:     h.deps.Offline,
		Telemetry:   h.deps.Telemetry,
		Logf:        h.deps.Logf,
	})
}

func (h *Handler) handleHydrate(w http.ResponseWriter, r *http.Request) {
	sess, err := h.newSession(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	err = sess.Manage(r.Context(), func(s *session.Session) error {
		_, visitErr := s.Visitor(r.Context())
		return visitErr
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.StateExport())
}

type splitResponse struct {
	SplitName   string `json:"split_name"`
	Variant     string `json:"variant"`
	Unsynced    bool   `json:"unsynced"`
	FeatureGate bool   `json:"feature_gate"`
}

func (h *Handler) handleSplit(w http.ResponseWriter, r *http.Request) {
	splitName := strings.TrimSpace(r.PathValue("name"))
	sess, err := h.newSession(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var assignment domain.Assignment
	err = sess.Manage(r.Context(), func(s *session.Session) error {
		resolved, assignErr := s.AssignmentFor(r.Context(), splitName)
		if assignErr != nil {
			return assignErr
		}
		assignment = resolved
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, splitResponse{
		SplitName:   assignment.SplitName(),
		Variant:     assignment.Variant(),
		Unsynced:    assignment.Unsynced(),
		FeatureGate: assignment.FeatureGate(),
	})
}

type identifierRequest struct {
	IdentifierType string `json:"identifier_type"`
	Value          string `json:"value"`
}

type identifierResponse struct {
	VisitorID string `json:"visitor_id"`
}

func (h *Handler) handleIdentifier(w http.ResponseWriter, r *http.Request) {
	var req identifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.Wrap(apperrors.CodeIdentifierValueEmpty, "decode identifier request", err))
		return
	}
	sess, err := h.newSession(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var visitorID string
	err = sess.Manage(r.Context(), func(s *session.Session) error {
		if loginErr := s.LogIn(r.Context(), req.IdentifierType, req.Value); loginErr != nil {
			return loginErr
		}
		visitor, visitErr := s.Visitor(r.Context())
		if visitErr != nil {
			return visitErr
		}
		visitorID = visitor.ID()
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identifierResponse{VisitorID: visitorID})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.deps.Logf("assignment api: %v", err)
	}
	message := err.Error()
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	writeJSON(w, status, errorResponse{Code: string(apperrors.GetCode(err)), Message: message})
}

// writeJSON writes a JSON body with normalized headers and status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
