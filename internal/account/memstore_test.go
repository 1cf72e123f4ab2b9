package account

import (
	"context"
	"errors"
	"testing"
)

func TestMemstoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := &Account{Username: "alice", Email: "alice@example.com"}
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" {
		t.Fatalf("Create did not assign an id")
	}

	byID, err := s.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	byName, err := s.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if byID.ID != byName.ID {
		t.Fatalf("lookups disagree: %q vs %q", byID.ID, byName.ID)
	}

	if _, err := s.GetByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemstoreStatsDeltaFloorsAtZero(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := &Account{ID: "u1", Username: "u1"}
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.ApplyStatsDelta(ctx, "u1", StatsDelta{Losses: 1, GamesPlayed: 1, RankPoints: -5}); err != nil {
		t.Fatalf("ApplyStatsDelta: %v", err)
	}
	got, _ := s.GetByID(ctx, "u1")
	if got.RankPoints != 0 {
		t.Fatalf("rank points went negative: %d", got.RankPoints)
	}
	if got.Losses != 1 || got.GamesPlayed != 1 {
		t.Fatalf("counters wrong: %+v", got)
	}

	if err := s.ApplyStatsDelta(ctx, "ghost", StatsDelta{Wins: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemstoreRanking(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		if err := s.Create(ctx, &Account{ID: id, Username: id}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := s.ApplyStatsDelta(ctx, "c", StatsDelta{RankPoints: 6}); err != nil {
		t.Fatalf("delta c: %v", err)
	}
	// a and b tie on zero; ordering falls back to ascending id.
	all, err := s.ListAllByRankDesc(ctx)
	if err != nil {
		t.Fatalf("ListAllByRankDesc: %v", err)
	}
	gotOrder := []string{all[0].ID, all[1].ID, all[2].ID}
	wantOrder := []string{"c", "a", "b"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("order %v, want %v", gotOrder, wantOrder)
		}
	}

	if err := s.SetRankPositions(ctx, map[string]int{"c": 1, "a": 2, "b": 3}); err != nil {
		t.Fatalf("SetRankPositions: %v", err)
	}
	c, _ := s.GetByID(ctx, "c")
	if c.CurrentRank != 1 {
		t.Fatalf("rank not stored: %+v", c)
	}
}

func TestMemstoreCopyOnRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, &Account{ID: "u1", Username: "u1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _ := s.GetByID(ctx, "u1")
	got.RankPoints = 999

	fresh, _ := s.GetByID(ctx, "u1")
	if fresh.RankPoints != 0 {
		t.Fatalf("mutation through returned pointer leaked into the store")
	}
}
