package export

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(sessionID string, turn int) DecisionEvent {
	return DecisionEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		LearnerID:  "anon_test",
		SessionID:  sessionID,
		TurnIndex:  turn,
		Phase:      "ideation",
		Confidence: 0.25,
		Mode:       "socratic_questioning",
	}
}

func readEvents(t *testing.T, path string) []DecisionEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file %s: %v", path, err)
	}
	defer f.Close()

	var events []DecisionEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event DecisionEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("Malformed NDJSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return events
}

func TestDecisionLoggerWritesSessionFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	logger, err := NewDecisionLogger(Config{Enabled: true, Dir: dir, QueueSize: 16}, discardLogger())
	if err != nil {
		t.Fatalf("NewDecisionLogger failed: %v", err)
	}

	logger.Log(testEvent("sess-a", 0))
	logger.Log(testEvent("sess-a", 1))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := readEvents(t, filepath.Join(dir, "anon_test", "sess-a.ndjson"))
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].TurnIndex != 0 || events[1].TurnIndex != 1 {
		t.Errorf("Events out of order: %+v", events)
	}
	if events[0].Mode != "socratic_questioning" {
		t.Errorf("Expected mode preserved, got %s", events[0].Mode)
	}
}

func TestDecisionLoggerGlobalFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "all.ndjson")
	logger, err := NewDecisionLogger(Config{
		Enabled: true, Dir: dir,
		GlobalEnabled: true, GlobalPath: globalPath,
		QueueSize: 16,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewDecisionLogger failed: %v", err)
	}

	logger.Log(testEvent("sess-a", 0))
	logger.Log(testEvent("sess-b", 0))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := readEvents(t, globalPath)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events in global log, got %d", len(events))
	}
	if events[0].SessionID == events[1].SessionID {
		t.Errorf("Expected events from both sessions, got %+v", events)
	}
}

func TestDecisionLoggerDisabled(t *testing.T) {
	t.Parallel()
	logger, err := NewDecisionLogger(Config{Enabled: false}, discardLogger())
	if err != nil {
		t.Fatalf("NewDecisionLogger failed: %v", err)
	}

	// Must accept events and close without touching the filesystem.
	logger.Log(testEvent("sess-a", 0))
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestDecisionLoggerLogAfterClose(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	logger, err := NewDecisionLogger(Config{Enabled: true, Dir: dir, QueueSize: 16}, discardLogger())
	if err != nil {
		t.Fatalf("NewDecisionLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Must be a no-op, not a panic on the closed queue.
	logger.Log(testEvent("sess-late", 0))
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestDecisionLoggerConcurrentLogAndClose(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// A small queue forces the drop path while Close races the senders.
	for i := 0; i < 25; i++ {
		logger, err := NewDecisionLogger(Config{Enabled: true, Dir: dir, QueueSize: 4}, discardLogger())
		if err != nil {
			t.Fatalf("NewDecisionLogger failed: %v", err)
		}

		var wg sync.WaitGroup
		for w := 0; w < 3; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					logger.Log(testEvent("sess-race", j))
				}
			}()
		}

		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		wg.Wait()
	}
}

func TestFromDecision(t *testing.T) {
	t.Parallel()
	d := &domain.GuidanceDecision{
		SessionID:     "sess-x",
		TurnIndex:     4,
		Mode:          domain.GuidanceDirect,
		Phase:         domain.PhaseVisualization,
		PhaseName:     "visualization",
		Confidence:    0.42,
		PhaseAdvanced: true,
	}

	event := FromDecision("anon_from", d)
	if event.LearnerID != "anon_from" || event.SessionID != "sess-x" {
		t.Errorf("Identifiers not carried over: %+v", event)
	}
	if event.Phase != "visualization" || event.Mode != string(domain.GuidanceDirect) {
		t.Errorf("Decision fields not carried over: %+v", event)
	}
	if !event.PhaseAdvanced || event.PhaseRegressed {
		t.Errorf("Transition flags not carried over: %+v", event)
	}
	if _, err := time.Parse(time.RFC3339Nano, event.Timestamp); err != nil {
		t.Errorf("Timestamp not RFC3339Nano: %v", err)
	}
}
