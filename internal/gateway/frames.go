package gateway

import (
	"encoding/json"
	"errors"

	"github.com/shanks/boardgame-server/internal/account"
	"github.com/shanks/boardgame-server/internal/msgcat"
	"github.com/shanks/boardgame-server/internal/session"
)

// Envelope is a client-to-server websocket message.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Client envelope types.
const (
	TypeMatch = "match"
	TypeJoin  = "join"
	TypeMove  = "move"
	TypeEnd   = "end"
	TypeState = "state"
	TypeBoard = "board"
	TypeChat  = "chat"
)

// Frame is a server-to-client websocket message.
type Frame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Server frame types.
const (
	FrameSession      = "session"
	FrameState        = "state"
	FramePresence     = "presence"
	FrameFriendStatus = "friend_status"
	FrameBoard        = "board"
	FrameChat         = "chat"
	FrameError        = "error"
)

type joinData struct {
	Username string `json:"username"`
}

type endData struct {
	WinnerID string `json:"winner_id"`
}

type chatData struct {
	Text string `json:"text"`
}

type chatEvent struct {
	SessionID string `json:"session_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
}

type friendStatusEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type boardSnapshot struct {
	SessionID string `json:"session_id"`
	PNGBase64 string `json:"png_base64"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in error frames.
const (
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeTurnViolation    = "TURN_VIOLATION"
	CodeInvalidWinner    = "INVALID_WINNER"
	CodeAlreadyFinished  = "ALREADY_FINISHED"
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeConflict         = "CONFLICT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInternal         = "INTERNAL"
)

// errorFrame maps a service error onto a typed error frame, with the
// client-facing text rendered from the message catalog.
func errorFrame(cat *msgcat.Catalog, err error, sessionID string) Frame {
	code := CodeInternal
	key := "error.internal"
	data := map[string]any{"SessionID": sessionID}

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		code, key = CodeSessionNotFound, "error.session_not_found"
	case errors.Is(err, session.ErrTurnViolation):
		code, key = CodeTurnViolation, "error.turn_violation"
	case errors.Is(err, session.ErrInvalidWinner):
		code, key = CodeInvalidWinner, "error.invalid_winner"
	case errors.Is(err, session.ErrAlreadyFinished):
		code, key = CodeAlreadyFinished, "error.already_finished"
	case errors.Is(err, session.ErrMalformedPayload):
		code, key = CodeMalformedPayload, "error.malformed_payload"
	case errors.Is(err, session.ErrConflict):
		code, key = CodeConflict, "error.conflict"
	case errors.Is(err, session.ErrInvalidArgs):
		code, key = CodeBadRequest, "error.malformed_payload"
	case errors.Is(err, errRateLimited):
		code, key = CodeRateLimited, "error.rate_limited"
	case errors.Is(err, account.ErrNotFound):
		code, key = CodeNotFound, "error.internal"
	}

	msg := err.Error()
	if cat != nil {
		msg = cat.RenderOr(key, data, err.Error())
	}
	return Frame{Type: FrameError, Data: errorData{Code: code, Message: msg}}
}

var errRateLimited = errors.New("rate limited")
