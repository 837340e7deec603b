// Package session orchestrates session lifecycle: it guards each session
// with session-scoped exclusive access, runs the phase-progression tracker
// over incoming turns, persists the result, and fans decisions out to the
// decision log and the live stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
	"github.com/atelierlabs/atelier-mentor/internal/export"
	"github.com/atelierlabs/atelier-mentor/internal/progression"
	"github.com/atelierlabs/atelier-mentor/internal/store"
	"github.com/google/uuid"
)

// ErrInvalidMentorType is returned when a session is started with an
// unknown mentor type.
var ErrInvalidMentorType = errors.New("invalid mentor type")

// Broadcaster pushes a guidance decision to live watchers.
type Broadcaster interface {
	Broadcast(decision *domain.GuidanceDecision)
}

// Manager owns session state transitions. Turns for the same session are
// serialized through a per-session mutex so interleaved updates cannot be
// applied out of order; independent sessions proceed concurrently.
type Manager struct {
	repo        store.Repository
	tracker     *progression.Tracker
	decisions   export.DecisionLogger
	broadcaster Broadcaster

	locks sync.Map // sessionID -> *sync.Mutex
}

// NewManager creates a session manager. broadcaster may be nil.
func NewManager(repo store.Repository, tracker *progression.Tracker, decisions export.DecisionLogger, broadcaster Broadcaster) *Manager {
	if decisions == nil {
		decisions, _ = export.NewDecisionLogger(export.Config{}, nil)
	}
	return &Manager{
		repo:        repo,
		tracker:     tracker,
		decisions:   decisions,
		broadcaster: broadcaster,
	}
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// StartSession creates a new session for the learner in the Ideation phase.
func (m *Manager) StartSession(ctx context.Context, learnerID string, mentorType domain.MentorType) (*domain.Session, error) {
	if mentorType == "" {
		mentorType = domain.MentorSocratic
	}
	if !mentorType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMentorType, mentorType)
	}

	session := domain.NewSession(uuid.NewString(), learnerID, mentorType, time.Now())
	if err := m.repo.UpsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	slog.Info("Session started",
		"session_id", session.ID,
		"learner_id", learnerID,
		"mentor_type", mentorType,
	)
	return session, nil
}

// GetSession loads a session owned by the learner. Sessions belonging to
// other learners report ErrNotFound rather than leaking their existence.
func (m *Manager) GetSession(ctx context.Context, learnerID, sessionID string) (*domain.Session, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.LearnerID != learnerID {
		return nil, store.ErrNotFound
	}
	return session, nil
}

// IngestTurn runs one turn through the tracker under the session lock and
// persists the updated state. On tracker errors nothing is persisted or
// broadcast; the stored session is unchanged.
func (m *Manager) IngestTurn(ctx context.Context, learnerID, sessionID string, in domain.TurnInput) (*domain.GuidanceDecision, error) {
	mu := m.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := m.GetSession(ctx, learnerID, sessionID)
	if err != nil {
		return nil, err
	}

	decision, err := m.tracker.IngestTurn(session, in)
	if err != nil {
		return nil, err
	}

	err = store.WithRetry(ctx, "upsert session", func() error {
		return m.repo.UpsertSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	m.decisions.Log(export.FromDecision(learnerID, decision))
	if m.broadcaster != nil {
		m.broadcaster.Broadcast(decision)
	}

	return decision, nil
}

// Guidance returns the current guidance recommendation without mutating
// the session.
func (m *Manager) Guidance(ctx context.Context, learnerID, sessionID string) (domain.GuidanceMode, error) {
	session, err := m.GetSession(ctx, learnerID, sessionID)
	if err != nil {
		return "", err
	}
	return m.tracker.RecommendGuidance(session), nil
}

// forgetLock drops the per-session mutex for a removed session.
func (m *Manager) forgetLock(sessionID string) {
	m.locks.Delete(sessionID)
}

// Close flushes the decision log.
func (m *Manager) Close() {
	if err := m.decisions.Close(); err != nil {
		slog.Warn("failed to close decision logger", "error", err)
	}
}
