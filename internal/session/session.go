package session

import (
	"errors"
	"time"

	"mealplan/internal/shared"
)

var (
	// ErrSessionNotFound covers unknown, finalized, expired and tampered sessions.
	ErrSessionNotFound   = errors.New("session not found")
	ErrNothingToFinalize = errors.New("session has no plan to finalize")
	// ErrNoRecipesFound is a warning: the plan was created but is empty.
	ErrNoRecipesFound = errors.New("no recipes found for request")
)

// State is the position of a session in its lifecycle.
type State string

const (
	StateInitial   State = "INITIAL"
	StateGenerated State = "GENERATED"
	StateModifying State = "MODIFYING"
	StateFinalized State = "FINALIZED"
)

// Session is one planning conversation. It owns its turns and points at the
// plan it produced.
type Session struct {
	ID        string
	UserID    string
	State     State
	PlanID    string
	Turns     []shared.Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open reports whether the session still accepts changes.
func (s *Session) Open() bool {
	return s.State != StateFinalized
}

func (s *Session) addTurn(role shared.Role, text string) {
	s.Turns = append(s.Turns, shared.Turn{Role: role, Text: text, At: time.Now().UTC()})
}
