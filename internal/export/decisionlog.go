// Package export writes guidance decisions to NDJSON session logs so
// research exports can be produced without touching the live database.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
)

// DecisionEvent is one logged guidance decision.
type DecisionEvent struct {
	Timestamp       string  `json:"ts"`
	LearnerID       string  `json:"learner_id"`
	SessionID       string  `json:"session_id"`
	TurnIndex       int     `json:"turn_index"`
	Phase           string  `json:"phase"`
	Confidence      float64 `json:"confidence"`
	Mode            string  `json:"mode"`
	PhaseAdvanced   bool    `json:"phase_advanced,omitempty"`
	PhaseRegressed  bool    `json:"phase_regressed,omitempty"`
	SessionComplete bool    `json:"session_complete,omitempty"`
}

// FromDecision builds a log event from a guidance decision.
func FromDecision(learnerID string, d *domain.GuidanceDecision) DecisionEvent {
	return DecisionEvent{
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		LearnerID:       learnerID,
		SessionID:       d.SessionID,
		TurnIndex:       d.TurnIndex,
		Phase:           d.PhaseName,
		Confidence:      d.Confidence,
		Mode:            string(d.Mode),
		PhaseAdvanced:   d.PhaseAdvanced,
		PhaseRegressed:  d.PhaseRegressed,
		SessionComplete: d.SessionComplete,
	}
}

// DecisionLogger records guidance decisions. Log must never block the
// request path.
type DecisionLogger interface {
	Log(event DecisionEvent)
	Close() error
}

// Config controls the NDJSON decision logger.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// NewDecisionLogger creates a logger that appends one NDJSON line per
// decision to <dir>/<learner_id>/<session_id>.ndjson, and optionally to a
// single global file. Writes happen on a background goroutine; when the
// queue is full, events are dropped and counted rather than blocking
// ingestion.
func NewDecisionLogger(cfg Config, logger *slog.Logger) (DecisionLogger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create decision log directory: %w", err)
	}

	l := &fileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan DecisionEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

type fileLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan DecisionEvent
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// Log enqueues an event, dropping it when the queue is full. The mutex
// is held across the send so Close cannot close the queue between the
// closed check and the send.
func (l *fileLogger) Log(event DecisionEvent) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}

	select {
	case l.queue <- event:
		l.mu.Unlock()
	default:
		l.dropped++
		dropped := l.dropped
		l.mu.Unlock()
		l.logger.Warn("decision log queue full, event dropped",
			"session_id", event.SessionID, "dropped_total", dropped)
	}
}

// Close drains the queue and stops the writer goroutine.
func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.queue)
	<-l.done
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		l.write(event)
	}
}

func (l *fileLogger) write(event DecisionEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("failed to marshal decision event", "error", err)
		return
	}
	line = append(line, '\n')

	sessionPath := filepath.Join(l.cfg.Dir, event.LearnerID, event.SessionID+".ndjson")
	if err := appendLine(sessionPath, line); err != nil {
		l.logger.Warn("failed to write session decision log", "error", err, "path", sessionPath)
	}

	if l.cfg.GlobalEnabled && l.cfg.GlobalPath != "" {
		if err := appendLine(l.cfg.GlobalPath, line); err != nil {
			l.logger.Warn("failed to write global decision log", "error", err, "path", l.cfg.GlobalPath)
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("failed to close decision log file", "error", closeErr, "path", path)
		}
	}()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append log line: %w", err)
	}
	return nil
}

type noopLogger struct{}

func (noopLogger) Log(DecisionEvent) {}
func (noopLogger) Close() error      { return nil }
