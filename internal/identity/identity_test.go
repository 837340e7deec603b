package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/atelierlabs/atelier-mentor/internal/store"
)

func TestIsValidAnonID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id   string
		want bool
	}{
		{"anon_0123456789abcdef0123456789abcdef", true},
		{"anon_0123456789ABCDEF0123456789ABCDEF", false},
		{"anon_0123456789abcdef", false},
		{"user_0123456789abcdef0123456789abcdef", false},
		{"", false},
		{"anon_0123456789abcdef0123456789abcdefextra", false},
	}
	for _, tt := range tests {
		if got := isValidAnonID(tt.id); got != tt.want {
			t.Errorf("isValidAnonID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestGenerateAnonID(t *testing.T) {
	t.Parallel()
	a, err := generateAnonID()
	if err != nil {
		t.Fatalf("generateAnonID failed: %v", err)
	}
	b, err := generateAnonID()
	if err != nil {
		t.Fatalf("generateAnonID failed: %v", err)
	}

	if !isValidAnonID(a) || !isValidAnonID(b) {
		t.Errorf("Generated ids not well formed: %s, %s", a, b)
	}
	if a == b {
		t.Error("Expected distinct generated ids")
	}
}

func TestDeriveUsername(t *testing.T) {
	t.Parallel()
	if got := deriveUsername("anon_0123456789abcdef0123456789abcdef"); got != "learner-89abcdef" {
		t.Errorf("Expected learner-89abcdef, got %s", got)
	}
	if got := deriveUsername("short"); got != "learner" {
		t.Errorf("Expected fallback username, got %s", got)
	}
}

func TestMiddlewareIssuesAndKeepsIdentity(t *testing.T) {
	t.Parallel()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	var seenLearnerID, seenUsername string
	handler := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenLearnerID = LearnerIDFromContext(r.Context())
		seenUsername = UsernameFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// First contact: a fresh identity is issued.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if !isValidAnonID(seenLearnerID) {
		t.Fatalf("Expected well-formed learner id in context, got %q", seenLearnerID)
	}
	if seenUsername == "" {
		t.Error("Expected username in context")
	}

	var issued *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("Expected identity cookie to be set")
	}
	if !issued.HttpOnly {
		t.Error("Identity cookie must be HttpOnly")
	}

	// The learner record is created on first contact.
	learner, err := repo.GetLearner(context.Background(), seenLearnerID)
	if err != nil {
		t.Fatalf("GetLearner failed: %v", err)
	}
	if learner == nil {
		t.Fatal("Expected learner record created")
	}
	if learner.Username != seenUsername {
		t.Errorf("Expected username %s, got %s", seenUsername, learner.Username)
	}

	// Second contact with the cookie keeps the same identity.
	firstID := seenLearnerID
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.AddCookie(issued)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seenLearnerID != firstID {
		t.Errorf("Identity changed across requests: %s -> %s", firstID, seenLearnerID)
	}
}

func TestMiddlewareReplacesMalformedCookie(t *testing.T) {
	t.Parallel()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	var seenLearnerID string
	handler := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenLearnerID = LearnerIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_notvalid"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !isValidAnonID(seenLearnerID) {
		t.Errorf("Expected a fresh identity for malformed cookie, got %q", seenLearnerID)
	}
	if seenLearnerID == "anon_notvalid" {
		t.Error("Malformed cookie value must not be accepted")
	}
}
