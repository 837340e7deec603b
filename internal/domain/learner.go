package domain

import (
	"time"
)

// Learner represents an anonymous learner known to the system.
type Learner struct {
	LearnerID  string    `json:"learner_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
