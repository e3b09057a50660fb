package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a named, avatar-bearing persona that automated and human
// replies are attributed to. Exactly one agent is active at a time.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscriber is a newsletter record created as a side effect of onboarding.
type Subscriber struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
