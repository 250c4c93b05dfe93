package model

import (
	"time"

	"github.com/google/uuid"
)

type TurnID string

// NewTurnID generates a new unique TurnID
func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

// UserID is the opaque partition key of a conversation
type UserID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem turns are UI annotations and are never sent to the model
	RoleSystem Role = "system"
)

func (x Role) Valid() bool {
	switch x {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one message of a conversation. Turns are never physically deleted;
// clearing a conversation sets Archived on every visible turn.
type Turn struct {
	ID        TurnID    `firestore:"id" json:"id"`
	Role      Role      `firestore:"role" json:"role"`
	Content   string    `firestore:"content" json:"content"`
	CreatedAt time.Time `firestore:"created_at,serverTimestamp" json:"created_at"`
	Archived  bool      `firestore:"archived" json:"archived"`
}

// NewTurn creates a visible turn with a fresh ID. CreatedAt is left zero so
// that the store assigns it.
func NewTurn(role Role, content string) *Turn {
	return &Turn{
		ID:      NewTurnID(),
		Role:    role,
		Content: content,
	}
}

// Conversational reports whether the turn is sent to the model as history
func (x *Turn) Conversational() bool {
	return x.Role == RoleUser || x.Role == RoleAssistant
}
