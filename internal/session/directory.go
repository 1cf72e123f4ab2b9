package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shanks/boardgame-server/internal/account"
	"github.com/shanks/boardgame-server/internal/obslog"
)

// Directory pairs players into sessions. The second-player slot is claimed
// with a conditional write under WATCH so that for any set of concurrent
// requests exactly one caller wins a given claim.
type Directory struct {
	rdb      *redis.Client
	store    *Store
	accounts account.Store
}

func NewDirectory(rdb *redis.Client, accounts account.Store) *Directory {
	return &Directory{rdb: rdb, store: NewStore(rdb), accounts: accounts}
}

// RequestSession finds the earliest WAITING session not created by playerID
// and claims its open slot. When no claimable session exists (or the only
// claim attempt lost a race and a single retry found nothing), a fresh
// WAITING session is created instead.
func (d *Directory) RequestSession(ctx context.Context, playerID string) (*Session, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, ErrInvalidArgs
	}
	if _, err := d.accounts.GetByID(ctx, playerID); err != nil {
		return nil, err
	}

	// One pass over the waiting index; a lost claim grants one more pass.
	for attempt := 0; attempt < 2; attempt++ {
		ids, err := d.store.WaitingIDs(ctx)
		if err != nil {
			return nil, err
		}
		conflicted := false
		for _, id := range ids {
			sess, err := d.claim(ctx, id, playerID)
			if err == nil && sess != nil {
				obslog.L().Info("session_claim",
					zap.String("session_id", sess.ID),
					zap.String("player1_id", sess.Player1ID),
					zap.String("player2_id", sess.Player2ID),
				)
				return sess, nil
			}
			if errors.Is(err, ErrConflict) {
				conflicted = true
				continue
			}
			if err != nil {
				return nil, err
			}
			// not claimable (own session, already taken, stale index entry)
		}
		if !conflicted {
			break
		}
	}

	return d.create(ctx, playerID)
}

// claim performs the conditional slot fill. It returns (nil, nil) when the
// session is not claimable by playerID and ErrConflict when a concurrent
// writer touched the record mid-transaction.
func (d *Directory) claim(ctx context.Context, sessionID, playerID string) (*Session, error) {
	key := sessionKey(sessionID)
	var claimed *Session

	errNotClaimable := errors.New("not_claimable")

	err := d.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			// Stale index entry; drop it and move on.
			_ = d.store.RemoveWaiting(ctx, sessionID)
			return errNotClaimable
		}
		if err != nil {
			return err
		}
		var cur Session
		if jerr := json.Unmarshal(raw, &cur); jerr != nil {
			return jerr
		}
		if cur.Status != StatusWaiting || cur.Player2ID != "" {
			_ = d.store.RemoveWaiting(ctx, sessionID)
			return errNotClaimable
		}
		if cur.Player1ID == playerID {
			// A player must not join their own waiting session.
			return errNotClaimable
		}

		cur.Player2ID = playerID
		cur.Status = StatusInProgress
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
		claimed = &cur
		return nil
	}, key)

	if errors.Is(err, errNotClaimable) {
		return nil, nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (d *Directory) create(ctx context.Context, playerID string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Player1ID: playerID,
		Status:    StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := d.store.AddWaiting(ctx, sess); err != nil {
		return nil, err
	}
	obslog.L().Info("session_create",
		zap.String("session_id", sess.ID),
		zap.String("player1_id", sess.Player1ID),
	)
	return sess, nil
}

// PlayerJoin resolves username and fills the session's open second-player
// slot. Joining an already-full session is accepted as a no-op so that
// reconnecting clients can re-issue the join without error.
func (d *Directory) PlayerJoin(ctx context.Context, sessionID, username string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || strings.TrimSpace(username) == "" {
		return nil, ErrInvalidArgs
	}
	joiner, err := d.accounts.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	key := sessionKey(sessionID)
	var result *Session
	errNoop := errors.New("join_noop")

	err = d.rdb.Watch(ctx, func(tx *redis.Tx) error {
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
		if cur.Player2ID != "" || cur.Status != StatusWaiting || cur.Player1ID == joiner.ID {
			result = &cur
			return errNoop
		}

		cur.Player2ID = joiner.ID
		cur.Status = StatusInProgress
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
		result = &cur
		return nil
	}, key)

	if errors.Is(err, errNoop) {
		return result, nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	obslog.L().Info("session_join",
		zap.String("session_id", result.ID),
		zap.String("player2_id", result.Player2ID),
	)
	return result, nil
}

// Get returns the session or ErrSessionNotFound.
func (d *Directory) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := d.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}
