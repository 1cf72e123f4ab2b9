package account

import (
	"context"
	"errors"
)

// Account is the snapshot of one player record held by the account store.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	RankPoints  int    `json:"rank_points"`
	CurrentRank int    `json:"current_rank"`
	GamesPlayed int    `json:"games_played"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
}

// StatsDelta is applied to one account in a single atomic update.
// RankPoints may be negative; the stored value is floored at zero.
type StatsDelta struct {
	Wins        int
	Losses      int
	GamesPlayed int
	RankPoints  int
}

var ErrNotFound = errors.New("account not found")

// Store is the account-store collaborator. Each call is atomic on its own;
// no cross-call transaction is offered or assumed.
type Store interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	ApplyStatsDelta(ctx context.Context, id string, d StatsDelta) error
	// ListAllByRankDesc orders by rank points descending, ties broken by
	// ascending account id so rank recomputation is deterministic.
	ListAllByRankDesc(ctx context.Context) ([]*Account, error)
	SetRankPositions(ctx context.Context, ranks map[string]int) error
	Close() error
}
