// Package progression implements the phase-progression tracker: it consumes
// the running transcript of a mentoring session, maintains per-phase
// confidence and milestone state, and decides when the learner's design
// phase advances or regresses and which guidance mode the dashboard should
// present next.
package progression

import (
	"log/slog"
	"strings"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
)

// Config holds the tracker's tunable thresholds. The defaults are
// calibration starting points, not measured constants; deployments override
// them through the environment.
type Config struct {
	// ConfidenceGain scales the per-turn confidence increment: the current
	// phase's confidence rises by ConfidenceGain times the turn's signal
	// strength for that phase.
	ConfidenceGain float64

	// ConfidenceFloor is the confidence a newly entered phase starts from
	// after a transition, avoiding a discontinuity back to zero.
	ConfidenceFloor float64

	// MinMilestones is the milestone count required, together with the
	// phase threshold, to complete a phase.
	MinMilestones int

	// RegressionThreshold is the per-turn earlier-phase signal strength
	// required to consider regression. Strictly higher than any phase
	// advancement threshold to avoid oscillation.
	RegressionThreshold float64

	// RegressionWindow is how many consecutive recent turns must carry an
	// above-threshold earlier-phase signal before the pointer moves back.
	RegressionWindow int

	// RegressionCooldownTurns is the minimum number of turns between two
	// regression events.
	RegressionCooldownTurns int

	// RegressionPenalty is subtracted from the target phase's confidence
	// when the pointer moves back, floored at ConfidenceFloor.
	RegressionPenalty float64
}

// DefaultConfig returns the default tracker thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceGain:          0.25,
		ConfidenceFloor:         0.20,
		MinMilestones:           2,
		RegressionThreshold:     0.85,
		RegressionWindow:        3,
		RegressionCooldownTurns: 4,
		RegressionPenalty:       0.25,
	}
}

// Tracker maintains phase-progression state for sessions. It performs no
// I/O; all work is in-memory arithmetic over the turn history, so callers
// provide per-session exclusive access when sessions are processed across
// workers.
type Tracker struct {
	cfg    Config
	logger *slog.Logger
}

// NewTracker creates a tracker with the given thresholds.
func NewTracker(cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{cfg: cfg, logger: logger}
}

// IngestTurn validates and appends a new turn, updates the current phase's
// confidence and milestones, applies transition and regression rules, and
// returns the guidance decision for the turn.
//
// On error the session is left byte-for-byte unchanged: validation happens
// before any mutation.
func (t *Tracker) IngestTurn(s *domain.Session, in domain.TurnInput) (*domain.GuidanceDecision, error) {
	if strings.TrimSpace(in.Text) == "" && !in.ImageEvidence {
		return nil, ErrEmptyTurn
	}
	if s.Complete() {
		return nil, ErrSessionComplete
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	turn := domain.Turn{
		Index:         len(s.Turns),
		Text:          in.Text,
		ImageEvidence: in.ImageEvidence,
		Signals:       ExtractSignals(in.Text, in.ImageEvidence),
		Timestamp:     ts,
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = ts

	phase := s.CurrentPhase
	state := s.CurrentState()
	state.Confidence = clamp01(state.Confidence + t.cfg.ConfidenceGain*turn.Signals.Strength[phase])
	t.creditMilestones(s, turn.Signals.Milestones)

	decision := &domain.GuidanceDecision{
		SessionID:     s.ID,
		TurnIndex:     turn.Index,
		PreviousPhase: phase,
		CreatedAt:     ts,
	}

	if completed := t.EvaluateTransition(s); completed != nil {
		decision.PhaseAdvanced = true
	} else if t.CheckRegression(s) {
		decision.PhaseRegressed = true
	}

	decision.Mode = t.RecommendGuidance(s)
	decision.SessionComplete = s.Complete()
	decision.Phase = s.CurrentPhase
	decision.PhaseName = s.CurrentPhase.String()
	if st := s.CurrentState(); st != nil {
		decision.Confidence = st.Confidence
	} else {
		decision.Confidence = s.States[domain.NumPhases-1].Confidence
	}

	t.logger.Debug("turn ingested",
		"session_id", s.ID,
		"turn_index", turn.Index,
		"phase", decision.PhaseName,
		"confidence", decision.Confidence,
		"mode", decision.Mode,
		"advanced", decision.PhaseAdvanced,
		"regressed", decision.PhaseRegressed,
	)

	return decision, nil
}

// creditMilestones marks matched milestones on the current phase only.
// Milestones belonging to phases the learner has not reached yet are
// ignored: phases complete in strictly increasing order.
func (t *Tracker) creditMilestones(s *domain.Session, matched []string) {
	phase, ok := domain.PhaseByID(s.CurrentPhase)
	if !ok {
		return
	}
	state := s.CurrentState()
	for _, id := range matched {
		for _, m := range phase.Milestones {
			if m == id {
				state.Achieve(id)
				break
			}
		}
	}
}

// EvaluateTransition advances the current phase when its confidence has
// crossed the phase threshold and enough milestones are achieved. The
// newly entered phase's confidence is reset to the configured floor.
// Returns the completed phase's state, or nil when no transition occurred.
// Calling it again without an intervening turn is a no-op.
func (t *Tracker) EvaluateTransition(s *domain.Session) *domain.PhaseState {
	if s.Complete() {
		return nil
	}

	phase, _ := domain.PhaseByID(s.CurrentPhase)
	state := s.CurrentState()

	if state.Confidence < phase.Threshold {
		return nil
	}
	// A phase completed on an earlier pass keeps its milestones; only a
	// first-time completion checks the milestone minimum.
	if !state.Completed && state.MilestoneCount() < t.cfg.MinMilestones {
		return nil
	}

	state.Completed = true
	s.CurrentPhase++
	if s.CurrentPhase > s.MaxPhaseReached {
		s.MaxPhaseReached = s.CurrentPhase
	}
	// The entered phase restarts from the floor even when it was visited
	// before, so repeated evaluation without a new turn cannot chain
	// through previously completed phases.
	if next := s.CurrentState(); next != nil {
		next.Confidence = t.cfg.ConfidenceFloor
	}

	t.logger.Info("phase completed",
		"session_id", s.ID,
		"phase", phase.ID.String(),
		"next_phase", s.CurrentPhase.String(),
		"session_complete", s.Complete(),
	)

	return state
}

// CheckRegression applies the regression-prevention policy: when every turn
// in the recent window carries an earlier-phase signal above the regression
// threshold (and stronger than the current phase's own signal), the
// current-phase pointer moves back exactly one step and that phase's
// confidence is reduced. Completed flags are never revoked. A cool-down
// window, measured in turns, bounds how often regression can fire.
func (t *Tracker) CheckRegression(s *domain.Session) bool {
	if s.Complete() || s.CurrentPhase == domain.PhaseIdeation {
		return false
	}
	if len(s.Turns) < t.cfg.RegressionWindow {
		return false
	}

	window := s.RecentTurns(t.cfg.RegressionWindow)
	earlier, ok := dominantEarlierPhase(window, s.CurrentPhase, t.cfg.RegressionThreshold)
	if !ok {
		return false
	}

	lastTurn := len(s.Turns) - 1
	if s.LastRegressionTurn >= 0 && lastTurn-s.LastRegressionTurn < t.cfg.RegressionCooldownTurns {
		// Suppressed trigger: absorbed as a no-op, not surfaced to callers.
		t.logger.Debug("regression suppressed by cool-down",
			"session_id", s.ID,
			"turn_index", lastTurn,
			"last_regression_turn", s.LastRegressionTurn,
			"earlier_phase", earlier.String(),
		)
		return false
	}

	from := s.CurrentPhase
	s.CurrentPhase--
	s.LastRegressionTurn = lastTurn

	state := s.CurrentState()
	state.Confidence = state.Confidence - t.cfg.RegressionPenalty
	if state.Confidence < t.cfg.ConfidenceFloor {
		state.Confidence = t.cfg.ConfidenceFloor
	}

	t.logger.Info("phase regressed",
		"session_id", s.ID,
		"from", from.String(),
		"to", s.CurrentPhase.String(),
		"confidence", state.Confidence,
	)

	return true
}

// dominantEarlierPhase returns the earlier phase whose signal exceeds the
// regression threshold on every turn of the window while also dominating
// the current phase's own signal. Single-step regressions only consider
// phases before the current one; the move itself is always one ordinal.
func dominantEarlierPhase(window []domain.Turn, current domain.PhaseID, threshold float64) (domain.PhaseID, bool) {
	for earlier := domain.PhaseIdeation; earlier < current; earlier++ {
		all := true
		for _, turn := range window {
			strength := turn.Signals.Strength[earlier]
			if strength < threshold || strength <= turn.Signals.Strength[current] {
				all = false
				break
			}
		}
		if all {
			return earlier, true
		}
	}
	return 0, false
}

// Confidence bands for guidance selection.
const (
	lowConfidenceBand  = 0.35
	highConfidenceBand = 0.70
)

// RecommendGuidance maps the current phase and confidence band to a
// guidance mode. Deterministic, no side effects.
func (t *Tracker) RecommendGuidance(s *domain.Session) domain.GuidanceMode {
	if s.Complete() {
		return domain.GuidanceMinimal
	}

	conf := s.CurrentState().Confidence
	switch s.CurrentPhase {
	case domain.PhaseIdeation, domain.PhaseVisualization:
		switch {
		case conf < lowConfidenceBand:
			return domain.GuidanceDirect
		case conf < highConfidenceBand:
			return domain.GuidanceSocratic
		default:
			return domain.GuidanceMinimal
		}
	case domain.PhaseMaterialization:
		// Late-phase learners get questioned rather than instructed even at
		// low confidence; technical recall is checked, not handed over.
		if conf < highConfidenceBand {
			return domain.GuidanceSocratic
		}
		return domain.GuidanceMinimal
	default:
		return domain.GuidanceMinimal
	}
}
