package account

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// memstore is an in-memory Store used when no database is configured and in
// tests that stub the account collaborator.
type memstore struct {
	mu     sync.RWMutex
	byID   map[string]*Account
	byName map[string]string // username -> id
}

func NewMemoryStore() Store {
	return &memstore{
		byID:   make(map[string]*Account),
		byName: make(map[string]string),
	}
}

func (m *memstore) Create(ctx context.Context, a *Account) error {
	if a == nil {
		return fmt.Errorf("nil account")
	}
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[a.ID]; exists {
		return fmt.Errorf("duplicate account id %s", a.ID)
	}
	if _, exists := m.byName[a.Username]; exists {
		return fmt.Errorf("duplicate username %s", a.Username)
	}
	cp := *a
	m.byID[cp.ID] = &cp
	m.byName[cp.Username] = cp.ID
	return nil
}

func (m *memstore) GetByID(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memstore) GetByUsername(ctx context.Context, username string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[strings.TrimSpace(username)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memstore) ApplyStatsDelta(ctx context.Context, id string, d StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	a.Wins += d.Wins
	a.Losses += d.Losses
	a.GamesPlayed += d.GamesPlayed
	a.RankPoints += d.RankPoints
	if a.RankPoints < 0 {
		a.RankPoints = 0
	}
	return nil
}

func (m *memstore) ListAllByRankDesc(ctx context.Context) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.byID))
	for _, a := range m.byID {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RankPoints != out[j].RankPoints {
			return out[i].RankPoints > out[j].RankPoints
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memstore) SetRankPositions(ctx context.Context, ranks map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rank := range ranks {
		if a, ok := m.byID[id]; ok {
			a.CurrentRank = rank
		}
	}
	return nil
}

func (m *memstore) Close() error { return nil }
