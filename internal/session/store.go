package session

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store wraps the Redis keyspace holding Session and TurnState records.
// Records are kept without TTL: the core never deletes a session
// (retention is out of scope).
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func sessionKey(id string) string { return "game:session:" + strings.TrimSpace(id) }
func stateKey(id string) string   { return "game:state:" + strings.TrimSpace(id) }
func waitingKey() string          { return "game:waiting" }

func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(sess.ID), raw, 0).Err()
}

// LoadSession returns (nil, nil) when the id is unknown.
func (s *Store) LoadSession(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// LoadState returns (nil, nil) when no TurnState exists for the session.
func (s *Store) LoadState(ctx context.Context, sessionID string) (*TurnState, error) {
	raw, err := s.rdb.Get(ctx, stateKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st TurnState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// AddWaiting indexes a WAITING session, scored by creation time so the
// earliest-created session is claimed first.
func (s *Store) AddWaiting(ctx context.Context, sess *Session) error {
	return s.rdb.ZAdd(ctx, waitingKey(), redis.Z{
		Score:  float64(sess.CreatedAt.UnixNano()),
		Member: sess.ID,
	}).Err()
}

func (s *Store) RemoveWaiting(ctx context.Context, sessionID string) error {
	return s.rdb.ZRem(ctx, waitingKey(), sessionID).Err()
}

// WaitingIDs returns WAITING session ids, earliest created first.
func (s *Store) WaitingIDs(ctx context.Context) ([]string, error) {
	return s.rdb.ZRange(ctx, waitingKey(), 0, -1).Result()
}

// ParseRedisURL converts redis:// and rediss:// URLs into client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, ErrInvalidArgs
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
