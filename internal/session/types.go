package session

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Status is the session lifecycle state. It only ever advances
// WAITING -> IN_PROGRESS -> FINISHED.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

// Session is one game instance between two players.
type Session struct {
	ID        string    `json:"id"`
	Player1ID string    `json:"player1_id"`
	Player2ID string    `json:"player2_id,omitempty"`
	Status    Status    `json:"status"`
	WinnerID  string    `json:"winner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpponentOf returns the other participant, or "" when id is not a
// participant or the slot is still open.
func (s *Session) OpponentOf(id string) string {
	switch strings.TrimSpace(id) {
	case s.Player1ID:
		return s.Player2ID
	case s.Player2ID:
		return s.Player1ID
	default:
		return ""
	}
}

// TurnState is the authoritative per-session game state, one-to-one with a
// Session. Payload is an opaque board blob; Turn is the side label whose
// logical turn is next.
type TurnState struct {
	SessionID   string          `json:"session_id"`
	LastMoverID string          `json:"last_mover_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Turn        string          `json:"turn"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrConflict         = errors.New("concurrent update lost the race")
	ErrTurnViolation    = errors.New("same player may not move twice in a row")
	ErrInvalidWinner    = errors.New("winner is not a participant of the session")
	ErrAlreadyFinished  = errors.New("session already finished")
	ErrMalformedPayload = errors.New("malformed move payload")
	ErrInvalidArgs      = errors.New("invalid arguments")
)

// MovePayload is the tagged move structure accepted at the transport
// boundary. Free-form blobs are rejected before they reach persistence.
type MovePayload struct {
	PlayerID string          `json:"player_id"`
	Board    json.RawMessage `json:"board"`
	Turn     string          `json:"turn"`
}

// ParseMovePayload validates a raw move submission. The payload must carry
// a player identifier and a non-null board position.
func ParseMovePayload(raw []byte) (*MovePayload, error) {
	if len(raw) == 0 {
		return nil, ErrMalformedPayload
	}
	var p MovePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrMalformedPayload
	}
	if strings.TrimSpace(p.PlayerID) == "" {
		return nil, ErrMalformedPayload
	}
	if len(p.Board) == 0 || string(p.Board) == "null" {
		return nil, ErrMalformedPayload
	}
	return &p, nil
}
