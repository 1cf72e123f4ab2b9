package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shanks/boardgame-server/internal/account"
	"github.com/shanks/boardgame-server/internal/broadcast"
	"github.com/shanks/boardgame-server/internal/obslog"
)

// StateStore owns the authoritative TurnState per session. Moves are
// serialized per session through WATCH transactions; every committed
// change is published on the session's topic only after the write lands.
type StateStore struct {
	rdb      *redis.Client
	store    *Store
	router   *broadcast.Router
	accounts account.Store

	winDelta  int
	lossDelta int
}

func NewStateStore(rdb *redis.Client, router *broadcast.Router, accounts account.Store, winDelta, lossDelta int) *StateStore {
	if winDelta <= 0 {
		winDelta = 3
	}
	if lossDelta <= 0 {
		lossDelta = 1
	}
	return &StateStore{
		rdb:       rdb,
		store:     NewStore(rdb),
		router:    router,
		accounts:  accounts,
		winDelta:  winDelta,
		lossDelta: lossDelta,
	}
}

// EnsureState returns the session's TurnState, creating the default record
// on first access. Creation uses SETNX so concurrent first calls agree on
// a single record; repeat calls return the stored state unchanged.
func (s *StateStore) EnsureState(ctx context.Context, sessionID string) (*TurnState, error) {
	sessionID = strings.TrimSpace(sessionID)
	sess, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	def := &TurnState{
		SessionID: sessionID,
		Payload:   DefaultBoardJSON(),
		Turn:      StartingTurn,
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	created, err := s.rdb.SetNX(ctx, stateKey(sessionID), raw, 0).Result()
	if err != nil {
		return nil, err
	}
	if created {
		obslog.L().Info("state_init", zap.String("session_id", sessionID))
		return def, nil
	}
	st, err := s.store.LoadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		// Lost a race with a concurrent delete; the core never deletes,
		// so treat it as the session being gone.
		return nil, ErrSessionNotFound
	}
	return st, nil
}

// ProcessMove validates turn order, commits the new state, and fans the
// committed state out to the session topic. The only legality check is the
// turn guard: payload shape beyond the boundary validation and game rules
// are the clients' concern.
func (s *StateStore) ProcessMove(ctx context.Context, sessionID, playerID string, payload json.RawMessage, nextTurn string) (*TurnState, error) {
	sessionID = strings.TrimSpace(sessionID)
	playerID = strings.TrimSpace(playerID)
	if sessionID == "" || playerID == "" || len(payload) == 0 {
		return nil, ErrInvalidArgs
	}
	if _, err := s.EnsureState(ctx, sessionID); err != nil {
		return nil, err
	}

	key := stateKey(sessionID)
	var updated *TurnState

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var cur TurnState
		if jerr := json.Unmarshal(raw, &cur); jerr != nil {
			return jerr
		}
		if cur.LastMoverID != "" && cur.LastMoverID == playerID {
			return ErrTurnViolation
		}

		cur.Payload = payload
		cur.LastMoverID = playerID
		cur.Turn = nextTurn
		cur.UpdatedAt = time.Now()

		newRaw, jerr := json.Marshal(&cur)
		if jerr != nil {
			return jerr
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		updated = &cur
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	// Visibility strictly after durability: the Watch callback has
	// returned, so the EXEC is committed before anyone hears about it.
	s.router.Publish(broadcast.SessionTopic(sessionID), updated)
	obslog.L().Info("move_commit",
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID),
		zap.String("turn", updated.Turn),
	)
	return updated, nil
}

// Finalize ends the session: FINISHED status and winner are committed
// first, then stats and the global ranking are updated through the account
// store, then the finalized session is published. Re-finalizing is
// rejected so stat deltas are never applied twice.
func (s *StateStore) Finalize(ctx context.Context, sessionID, winnerID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	winnerID = strings.TrimSpace(winnerID)
	if sessionID == "" || winnerID == "" {
		return nil, ErrInvalidArgs
	}

	key := sessionKey(sessionID)
	var final *Session
	var loserID string

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var cur Session
		if jerr := json.Unmarshal(raw, &cur); jerr != nil {
			return jerr
		}
		if cur.Status == StatusFinished {
			return ErrAlreadyFinished
		}
		if winnerID != cur.Player1ID && winnerID != cur.Player2ID {
			return ErrInvalidWinner
		}
		loserID = cur.OpponentOf(winnerID)
		if loserID == "" {
			// No opponent ever joined; there is nobody to lose.
			return ErrInvalidWinner
		}

		cur.Status = StatusFinished
		cur.WinnerID = winnerID
		cur.UpdatedAt = time.Now()

		newRaw, jerr := json.Marshal(&cur)
		if jerr != nil {
			return jerr
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, 0)
		pipe.ZRem(ctx, waitingKey(), sessionID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		final = &cur
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	if err := s.accounts.ApplyStatsDelta(ctx, winnerID, account.StatsDelta{
		Wins: 1, GamesPlayed: 1, RankPoints: s.winDelta,
	}); err != nil {
		return nil, fmt.Errorf("apply winner stats: %w", err)
	}
	if err := s.accounts.ApplyStatsDelta(ctx, loserID, account.StatsDelta{
		Losses: 1, GamesPlayed: 1, RankPoints: -s.lossDelta,
	}); err != nil {
		return nil, fmt.Errorf("apply loser stats: %w", err)
	}
	if err := s.recomputeRanks(ctx); err != nil {
		return nil, fmt.Errorf("recompute ranks: %w", err)
	}

	s.router.Publish(broadcast.SessionTopic(sessionID), final)
	obslog.L().Info("session_finalize",
		zap.String("session_id", sessionID),
		zap.String("winner_id", winnerID),
		zap.String("loser_id", loserID),
	)
	return final, nil
}

// recomputeRanks assigns dense positions 1..N over all accounts ordered by
// rank points descending; the store breaks ties by ascending account id.
func (s *StateStore) recomputeRanks(ctx context.Context) error {
	all, err := s.accounts.ListAllByRankDesc(ctx)
	if err != nil {
		return err
	}
	ranks := make(map[string]int, len(all))
	for i, a := range all {
		ranks[a.ID] = i + 1
	}
	return s.accounts.SetRankPositions(ctx, ranks)
}
