package session

import (
	"errors"
	"testing"
)

func TestParseMovePayload(t *testing.T) {
	p, err := ParseMovePayload([]byte(`{"player_id":"u1","board":[["red"]],"turn":"blue"}`))
	if err != nil {
		t.Fatalf("ParseMovePayload: %v", err)
	}
	if p.PlayerID != "u1" || p.Turn != "blue" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	bad := [][]byte{
		nil,
		[]byte(`not json`),
		[]byte(`{"board":[["red"]]}`),
		[]byte(`{"player_id":"u1"}`),
		[]byte(`{"player_id":"u1","board":null}`),
		[]byte(`{"player_id":"  ","board":[[]]}`),
	}
	for i, raw := range bad {
		if _, err := ParseMovePayload(raw); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("case %d: expected ErrMalformedPayload, got %v", i, err)
		}
	}
}

func TestOpponentOf(t *testing.T) {
	s := &Session{Player1ID: "a", Player2ID: "b"}
	if got := s.OpponentOf("a"); got != "b" {
		t.Fatalf("OpponentOf(a) = %q", got)
	}
	if got := s.OpponentOf("b"); got != "a" {
		t.Fatalf("OpponentOf(b) = %q", got)
	}
	if got := s.OpponentOf("c"); got != "" {
		t.Fatalf("OpponentOf(c) = %q", got)
	}
	open := &Session{Player1ID: "a"}
	if got := open.OpponentOf("a"); got != "" {
		t.Fatalf("open session opponent = %q", got)
	}
}
