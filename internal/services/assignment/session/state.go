package session

import (
	"github.com/louisbranch/divergence.space/internal/platform/cookiedomain"
	"github.com/louisbranch/divergence.space/internal/services/assignment/domain"
)

// StateExport is the client hydration payload. All four keys are always
// present; registry and assignments are null when unavailable.
type StateExport struct {
	// URL is the public split API endpoint with credentials stripped.
	URL string `json:"url"`
	// CookieDomain is the wildcard registrable domain cookies are scoped to.
	CookieDomain string `json:"cookieDomain"`
	// Registry is the current split snapshot, or null when unavailable.
	Registry domain.Registry `json:"registry"`
	// Assignments is the visitor's assignment registry, or null when the
	// visitor is unresolved.
	Assignments map[string]string `json:"assignments"`
}

// StateExport serializes the session state used to hydrate client code. It
// reflects whatever has been resolved so far and does not itself trigger
// visitor resolution.
func (s *Session) StateExport() StateExport {
	export := StateExport{
		CookieDomain: cookiedomain.Wildcard(s.cfg.Host),
	}
	if s.cfg.Registry != nil {
		export.URL = s.cfg.Registry.APIURL()
	}
	export.Registry = s.splitRegistry
	if s.visitor != nil {
		export.Assignments = s.visitor.FinalAssignmentRegistry()
	}
	return export
}
