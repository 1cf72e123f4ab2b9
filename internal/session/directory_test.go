package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shanks/boardgame-server/internal/account"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestAccounts(t *testing.T, ids ...string) account.Store {
	t.Helper()
	store := account.NewMemoryStore()
	for _, id := range ids {
		err := store.Create(context.Background(), &account.Account{ID: id, Username: "name-" + id})
		if err != nil {
			t.Fatalf("create account %s: %v", id, err)
		}
	}
	return store
}

func TestRequestSessionCreatesWhenNoneWaiting(t *testing.T) {
	rdb := newTestRedis(t)
	accounts := newTestAccounts(t, "u1")
	dir := NewDirectory(rdb, accounts)
	ctx := context.Background()

	sess, err := dir.RequestSession(ctx, "u1")
	if err != nil {
		t.Fatalf("RequestSession: %v", err)
	}
	if sess.Status != StatusWaiting || sess.Player1ID != "u1" || sess.Player2ID != "" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	got, err := dir.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != sess.ID || got.Status != StatusWaiting {
		t.Fatalf("stored session mismatch: %+v", got)
	}
}

func TestRequestSessionClaimsEarliestWaiting(t *testing.T) {
	rdb := newTestRedis(t)
	accounts := newTestAccounts(t, "u1", "u2", "u3")
	dir := NewDirectory(rdb, accounts)
	ctx := context.Background()

	first, err := dir.RequestSession(ctx, "u1")
	if err != nil {
		t.Fatalf("first RequestSession: %v", err)
	}
	second, err := dir.RequestSession(ctx, "u2")
	if err != nil {
		t.Fatalf("second RequestSession: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected u2 to claim %s, got %s", first.ID, second.ID)
	}
	if second.Status != StatusInProgress || second.Player2ID != "u2" {
		t.Fatalf("unexpected claimed session: %+v", second)
	}

	// The claimed session must be gone from the waiting index.
	ids, err := NewStore(rdb).WaitingIDs(ctx)
	if err != nil {
		t.Fatalf("WaitingIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("waiting index not emptied: %v", ids)
	}

	// A third request finds nothing waiting and creates again.
	third, err := dir.RequestSession(ctx, "u3")
	if err != nil {
		t.Fatalf("third RequestSession: %v", err)
	}
	if third.ID == first.ID || third.Status != StatusWaiting {
		t.Fatalf("expected a fresh waiting session, got %+v", third)
	}
}

func TestRequestSessionNeverJoinsOwnSession(t *testing.T) {
	rdb := newTestRedis(t)
	accounts := newTestAccounts(t, "u1")
	dir := NewDirectory(rdb, accounts)
	ctx := context.Background()

	first, err := dir.RequestSession(ctx, "u1")
	if err != nil {
		t.Fatalf("first RequestSession: %v", err)
	}
	second, err := dir.RequestSession(ctx, "u1")
	if err != nil {
		t.Fatalf("second RequestSession: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("player claimed their own waiting session")
	}
	if second.Status != StatusWaiting || second.Player2ID != "" {
		t.Fatalf("unexpected second session: %+v", second)
	}
}

func TestRequestSessionUnknownAccount(t *testing.T) {
	rdb := newTestRedis(t)
	dir := NewDirectory(rdb, newTestAccounts(t))

	_, err := dir.RequestSession(context.Background(), "ghost")
	if !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected account.ErrNotFound, got %v", err)
	}
}

func TestRequestSessionConcurrentSingleWinner(t *testing.T) {
	rdb := newTestRedis(t)
	ids := []string{"host", "a", "b", "c", "d", "e"}
	accounts := newTestAccounts(t, ids...)
	dir := NewDirectory(rdb, accounts)
	ctx := context.Background()

	host, err := dir.RequestSession(ctx, "host")
	if err != nil {
		t.Fatalf("host RequestSession: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*Session, len(ids)-1)
	for i, id := range ids[1:] {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sess, err := dir.RequestSession(ctx, id)
			if err != nil {
				t.Errorf("RequestSession %s: %v", id, err)
				return
			}
			results[i] = sess
		}(i, id)
	}
	wg.Wait()

	winners := 0
	for _, sess := range results {
		if sess == nil {
			continue
		}
		if sess.ID == host.ID {
			winners++
			if sess.Status != StatusInProgress || sess.Player2ID == "" {
				t.Fatalf("winner session malformed: %+v", sess)
			}
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claimant of the host session, got %d", winners)
	}

	// The hosted session ends with exactly one second player recorded.
	final, err := dir.Get(ctx, host.ID)
	if err != nil {
		t.Fatalf("Get host: %v", err)
	}
	if final.Status != StatusInProgress || final.Player2ID == "" || final.Player2ID == "host" {
		t.Fatalf("host session double-booked or unclaimed: %+v", final)
	}
}

func TestPlayerJoinByUsername(t *testing.T) {
	rdb := newTestRedis(t)
	accounts := newTestAccounts(t, "u1", "u2")
	dir := NewDirectory(rdb, accounts)
	ctx := context.Background()

	sess, err := dir.RequestSession(ctx, "u1")
	if err != nil {
		t.Fatalf("RequestSession: %v", err)
	}

	joined, err := dir.PlayerJoin(ctx, sess.ID, "name-u2")
	if err != nil {
		t.Fatalf("PlayerJoin: %v", err)
	}
	if joined.Player2ID != "u2" || joined.Status != StatusInProgress {
		t.Fatalf("unexpected joined session: %+v", joined)
	}

	// A repeated join is a no-op returning the current session.
	again, err := dir.PlayerJoin(ctx, sess.ID, "name-u2")
	if err != nil {
		t.Fatalf("repeat PlayerJoin: %v", err)
	}
	if again.Player2ID != "u2" || again.Status != StatusInProgress {
		t.Fatalf("repeat join changed the session: %+v", again)
	}
}

func TestPlayerJoinUnknownSession(t *testing.T) {
	rdb := newTestRedis(t)
	accounts := newTestAccounts(t, "u1")
	dir := NewDirectory(rdb, accounts)

	_, err := dir.PlayerJoin(context.Background(), "nope", "name-u1")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
