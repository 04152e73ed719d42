package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/louisbranch/divergence.space/internal/services/assignment/domain"
	"github.com/louisbranch/divergence.space/internal/services/assignment/platform/cookies"
	"github.com/louisbranch/divergence.space/internal/services/assignment/platform/requestmeta"
)

type stubRegistry struct {
	registry domain.Registry
	url      string
	err      error
}

func (s *stubRegistry) LoadSplitRegistry(context.Context) (domain.Registry, error) {
	return s.registry, s.err
}

func (s *stubRegistry) APIURL() string { return s.url }

type stubAssignments struct {
	byVisitor map[string]map[string]string
}

func (s *stubAssignments) LoadAssignmentRegistry(_ context.Context, visitorID string) (map[string]string, error) {
	return s.byVisitor[visitorID], nil
}

type stubIdentity struct {
	identity domain.Identity
	err      error
}

func (s *stubIdentity) CreateIdentity(context.Context, string, string) (domain.Identity, error) {
	return s.identity, s.err
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []map[string]string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _, _ string, newAssignments map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, newAssignments)
}

func newTestMux(deps Deps) *http.ServeMux {
	if deps.Logf == nil {
		deps.Logf = func(string, ...any) {}
	}
	mux := http.NewServeMux()
	NewHandler(deps).Routes(mux)
	return mux
}

func TestHydrateReturnsStateExport(t *testing.T) {
	t.Parallel()

	mux := newTestMux(Deps{
		Registry: &stubRegistry{
			registry: domain.Registry{"banner_color": {"red": 50, "blue": 50}},
			url:      "https://registry.boom.com",
		},
	})

	req := httptest.NewRequest(http.MethodGet, "https://app.boom.com/api/v1/hydrate", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for _, key := range []string{"url", "cookieDomain", "registry", "assignments"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("hydration payload missing %q: %s", key, rec.Body.String())
		}
	}
	if len(payload) != 4 {
		t.Fatalf("hydration payload has %d keys: %s", len(payload), rec.Body.String())
	}

	var identityCookie *http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == cookies.IdentityName {
			identityCookie = cookie
		}
	}
	if identityCookie == nil {
		t.Fatal("expected identity cookie")
	}
	if identityCookie.Domain != ".boom.com" {
		t.Fatalf("cookie domain = %q", identityCookie.Domain)
	}
}

func TestSplitEndpointAssignsVariant(t *testing.T) {
	t.Parallel()

	dispatcher := &recordingDispatcher{}
	mux := newTestMux(Deps{
		Registry: &stubRegistry{
			registry: domain.Registry{"banner_color": {"red": 100}},
		},
		Dispatcher: dispatcher,
	})

	req := httptest.NewRequest(http.MethodGet, "http://app.boom.com/api/v1/split/banner_color", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload splitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.SplitName != "banner_color" || payload.Variant != "red" {
		t.Fatalf("payload = %+v", payload)
	}
	if !payload.Unsynced {
		t.Fatal("expected unsynced assignment")
	}
	if payload.FeatureGate {
		t.Fatal("banner_color is not a feature gate")
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.calls) != 1 || dispatcher.calls[0]["banner_color"] != "red" {
		t.Fatalf("dispatched = %v", dispatcher.calls)
	}
}

func TestSplitEndpointFeatureGate(t *testing.T) {
	t.Parallel()

	mux := newTestMux(Deps{
		Registry: &stubRegistry{
			registry: domain.Registry{"signup_enabled": {"true": 100}},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "http://app.boom.com/api/v1/split/signup_enabled", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var payload splitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !payload.FeatureGate {
		t.Fatal("expected feature gate classification")
	}
}

func TestSplitEndpointRejectsEmptyName(t *testing.T) {
	t.Parallel()

	mux := newTestMux(Deps{Registry: &stubRegistry{}})

	req := httptest.NewRequest(http.MethodGet, "http://app.boom.com/api/v1/split/%20", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "split name") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestIdentifierLogsIn(t *testing.T) {
	t.Parallel()

	mux := newTestMux(Deps{
		Registry: &stubRegistry{registry: domain.Registry{}},
		Identity: &stubIdentity{identity: domain.Identity{
			VisitorID:          "33333333-3333-3333-3333-333333333333",
			AssignmentRegistry: map[string]string{"banner_color": "blue"},
		}},
	})

	body := strings.NewReader(`{"identifier_type":"clown_id","value":"1234"}`)
	req := httptest.NewRequest(http.MethodPost, "http://app.boom.com/api/v1/identifier", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload identifierResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.VisitorID != "33333333-3333-3333-3333-333333333333" {
		t.Fatalf("visitor id = %q", payload.VisitorID)
	}

	var identityCookie *http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == cookies.IdentityName {
			identityCookie = cookie
		}
	}
	if identityCookie == nil || identityCookie.Value != payload.VisitorID {
		t.Fatalf("identity cookie = %+v", identityCookie)
	}
}

func TestIdentifierRejectsMissingFields(t *testing.T) {
	t.Parallel()

	mux := newTestMux(Deps{
		Registry: &stubRegistry{registry: domain.Registry{}},
		Identity: &stubIdentity{},
	})

	body := strings.NewReader(`{"identifier_type":"","value":"1234"}`)
	req := httptest.NewRequest(http.MethodPost, "http://app.boom.com/api/v1/identifier", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSecureCookieFollowsForwardedProto(t *testing.T) {
	t.Parallel()

	mux := newTestMux(Deps{
		Registry: &stubRegistry{registry: domain.Registry{}},
		Scheme:   requestmeta.SchemePolicy{TrustForwardedProto: true},
	})

	req := httptest.NewRequest(http.MethodGet, "http://app.boom.com/api/v1/hydrate", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == cookies.IdentityName && !cookie.Secure {
			t.Fatal("expected secure identity cookie behind HTTPS proxy")
		}
	}
}

func TestResumedVisitorKeepsIdentity(t *testing.T) {
	t.Parallel()

	const resumed = "44444444-4444-4444-4444-444444444444"
	mux := newTestMux(Deps{
		Registry:    &stubRegistry{registry: domain.Registry{"banner_color": {"red": 100}}},
		Assignments: &stubAssignments{byVisitor: map[string]map[string]string{resumed: {"banner_color": "blue"}}},
	})

	req := httptest.NewRequest(http.MethodGet, "http://app.boom.com/api/v1/split/banner_color", nil)
	req.AddCookie(&http.Cookie{Name: cookies.IdentityName, Value: resumed})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var payload splitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Variant != "blue" {
		t.Fatalf("variant = %q, want persisted blue", payload.Variant)
	}
	if payload.Unsynced != true {
		t.Fatal("assignments report unsynced on construction")
	}
}
