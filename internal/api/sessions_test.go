package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/atelierlabs/atelier-mentor/internal/identity"
	"github.com/atelierlabs/atelier-mentor/internal/progression"
	"github.com/atelierlabs/atelier-mentor/internal/session"
	"github.com/atelierlabs/atelier-mentor/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}

	tracker := progression.NewTracker(progression.DefaultConfig(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	sessions := session.NewManager(repo, tracker, nil, nil)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	base := NewHandler(repo, sessions)
	NewSessionHandler(base).RegisterRoutes(r)
	NewHealthHandler(repo).RegisterHealth(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		sessions.Close()
		_ = repo.Close()
	})
	return srv
}

// newTestClient returns a client with a cookie jar so the anonymous
// identity persists across requests.
func newTestClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return resp, decoded
}

func startSession(t *testing.T, client *http.Client, baseURL, mentorType string) string {
	t.Helper()
	body := ""
	if mentorType != "" {
		body = fmt.Sprintf(`{"mentor_type":%q}`, mentorType)
	}
	resp, decoded := doJSON(t, client, http.MethodPost, baseURL+"/api/sessions", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 starting session, got %d: %v", resp.StatusCode, decoded)
	}
	id, _ := decoded["session_id"].(string)
	if id == "" {
		t.Fatalf("Expected session_id in response, got %v", decoded)
	}
	return id
}

func postTurn(t *testing.T, client *http.Client, baseURL, sessionID, text string) (*http.Response, map[string]interface{}) {
	t.Helper()
	body := fmt.Sprintf(`{"text":%q}`, text)
	return doJSON(t, client, http.MethodPost, baseURL+"/api/sessions/"+sessionID+"/turns", body)
}

func TestStartSessionEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)

	resp, decoded := doJSON(t, client, http.MethodPost, srv.URL+"/api/sessions", `{"mentor_type":"socratic_agent"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, decoded)
	}
	if decoded["current_phase"] != "ideation" {
		t.Errorf("Expected new session in ideation, got %v", decoded["current_phase"])
	}
	if decoded["mentor_type"] != "socratic_agent" {
		t.Errorf("Expected mentor_type echoed, got %v", decoded["mentor_type"])
	}
	if decoded["complete"] != false {
		t.Errorf("Expected incomplete session, got %v", decoded["complete"])
	}

	// An anonymous identity cookie is issued on first contact.
	anonPattern := regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	found := false
	for _, c := range resp.Cookies() {
		if c.Name == identity.AnonCookieName {
			found = true
			if !anonPattern.MatchString(c.Value) {
				t.Errorf("Malformed anonymous id cookie: %s", c.Value)
			}
			if !c.HttpOnly {
				t.Error("Anonymous id cookie must be HttpOnly")
			}
		}
	}
	if !found {
		t.Error("Expected anonymous id cookie to be set")
	}
}

func TestStartSessionDefaultsWithoutBody(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)

	resp, decoded := doJSON(t, client, http.MethodPost, srv.URL+"/api/sessions", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, decoded)
	}
	if decoded["mentor_type"] != "socratic_agent" {
		t.Errorf("Expected socratic default, got %v", decoded["mentor_type"])
	}
}

func TestStartSessionInvalidMentorType(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)

	resp, _ := doJSON(t, client, http.MethodPost, srv.URL+"/api/sessions", `{"mentor_type":"oracle"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestIngestTurnEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)
	sessionID := startSession(t, client, srv.URL, "socratic_agent")

	resp, decoded := postTurn(t, client, srv.URL, sessionID, "my concept responds to the site")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, decoded)
	}

	decision, ok := decoded["decision"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected decision object, got %v", decoded)
	}
	if decision["phase_name"] != "ideation" {
		t.Errorf("Expected phase ideation, got %v", decision["phase_name"])
	}
	if decision["mode"] == "" {
		t.Error("Expected guidance mode in decision")
	}

	style, ok := decoded["style"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected style object, got %v", decoded)
	}
	if style["opening"] == "" {
		t.Error("Expected dialogue style opening")
	}

	// Turn is visible on the session afterwards.
	resp, decoded = doJSON(t, client, http.MethodGet, srv.URL+"/api/sessions/"+sessionID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 fetching session, got %d", resp.StatusCode)
	}
	turns, ok := decoded["turns"].([]interface{})
	if !ok || len(turns) != 1 {
		t.Errorf("Expected 1 turn on session, got %v", decoded["turns"])
	}
}

func TestIngestEmptyTurn(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)
	sessionID := startSession(t, client, srv.URL, "")

	resp, decoded := postTurn(t, client, srv.URL, sessionID, "   ")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty turn, got %d: %v", resp.StatusCode, decoded)
	}
}

func TestIngestTurnUnknownSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)

	resp, _ := postTurn(t, client, srv.URL, "no-such-session", "an idea")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestIngestTurnOversizedBody(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)
	sessionID := startSession(t, client, srv.URL, "")

	resp, _ := postTurn(t, client, srv.URL, sessionID, strings.Repeat("a", 70<<10))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for oversized body, got %d", resp.StatusCode)
	}
}

func TestCompletedSessionRejectsTurns(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)
	sessionID := startSession(t, client, srv.URL, "socratic_agent")

	// Walk the session through all three phases.
	turns := []string{
		"our concept responds to the site and the program brief",
		"our concept responds to the site and the program brief",
		"our concept responds to the site and the program brief",
		"here is my sketch with a plan and a section",
		"here is my sketch with a plan and a section",
		"concrete structure with a detail of the joint",
		"concrete structure with a detail of the joint",
	}
	var last map[string]interface{}
	for i, text := range turns {
		resp, decoded := postTurn(t, client, srv.URL, sessionID, text)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Turn %d: expected 200, got %d: %v", i, resp.StatusCode, decoded)
		}
		last = decoded
	}

	decision := last["decision"].(map[string]interface{})
	if decision["session_complete"] != true {
		t.Fatalf("Expected session complete after final turn, got %v", decision)
	}

	resp, decoded := postTurn(t, client, srv.URL, sessionID, "one more idea")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 after completion, got %d: %v", resp.StatusCode, decoded)
	}
}

func TestGuidanceEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)
	sessionID := startSession(t, client, srv.URL, "")

	resp, decoded := doJSON(t, client, http.MethodGet, srv.URL+"/api/sessions/"+sessionID+"/guidance", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, decoded)
	}
	// Zero confidence in ideation maps to direct instruction.
	if decoded["mode"] != "direct_instruction" {
		t.Errorf("Expected direct_instruction, got %v", decoded["mode"])
	}
	style, ok := decoded["style"].(map[string]interface{})
	if !ok || style["mode"] != "direct_instruction" {
		t.Errorf("Expected matching style payload, got %v", decoded["style"])
	}
}

func TestSessionsIsolatedBetweenLearners(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	owner := newTestClient(t)
	intruder := newTestClient(t)

	sessionID := startSession(t, owner, srv.URL, "")
	// The intruder has a different anonymous identity cookie.
	startSession(t, intruder, srv.URL, "")

	resp, _ := doJSON(t, intruder, http.MethodGet, srv.URL+"/api/sessions/"+sessionID, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for foreign session, got %d", resp.StatusCode)
	}
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)

	first := startSession(t, client, srv.URL, "")
	second := startSession(t, client, srv.URL, "")

	resp, decoded := doJSON(t, client, http.MethodGet, srv.URL+"/api/sessions", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	sessions, ok := decoded["sessions"].([]interface{})
	if !ok || len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %v", decoded["sessions"])
	}
	ids := map[string]bool{}
	for _, s := range sessions {
		summary := s.(map[string]interface{})
		ids[summary["session_id"].(string)] = true
	}
	if !ids[first] || !ids[second] {
		t.Errorf("Expected both sessions listed, got %v", ids)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := newTestClient(t)

	resp, decoded := doJSON(t, client, http.MethodGet, srv.URL+"/api/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, decoded)
	}
	if decoded["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", decoded["status"])
	}
}
