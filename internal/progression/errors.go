package progression

import "errors"

var (
	// ErrEmptyTurn is returned when a turn carries no usable signal:
	// no text and no image evidence. Session state is left unchanged.
	ErrEmptyTurn = errors.New("turn has no text and no image evidence")

	// ErrSessionComplete is returned when a turn is ingested into a session
	// that has already completed the terminal phase. Callers should treat
	// the session as finished.
	ErrSessionComplete = errors.New("session has no current phase")
)
