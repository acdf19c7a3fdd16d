package store

import (
	"context"
	"sync"
)

// Memory implements the same collaborators as Store without a database.
type Memory struct {
	mu            sync.Mutex
	defaultRating int
	accounts      map[string]Account
	links         map[[2]string]bool
	invites       map[string][]Invite
}

func NewMemory(defaultRating int) *Memory {
	return &Memory{
		defaultRating: defaultRating,
		accounts:      make(map[string]Account),
		links:         make(map[[2]string]bool),
		invites:       make(map[string][]Invite),
	}
}

func (m *Memory) PutAccount(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

func (m *Memory) Account(id string) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (m *Memory) Link(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[[2]string{a, b}] = true
}

func (m *Memory) Rating(_ context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[accountID]; ok {
		return a.Rating, nil
	}
	return m.defaultRating, nil
}

func (m *Memory) AccountBySecret(_ context.Context, secret string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Secret != "" && a.Secret == secret {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (m *Memory) ApplyResult(_ context.Context, accountID string, r MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		a = Account{ID: accountID, Username: accountID, Rating: m.defaultRating}
	}
	a.GamesPlayed++
	a.TotalScore += int64(r.Score)
	a.BestScore = max(a.BestScore, r.Score)
	if r.Ranked {
		a.Rating = r.NewRating
		a.RankedGames++
	}
	m.accounts[accountID] = a
	return nil
}

func (m *Memory) AreLinked(_ context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[[2]string{a, b}] || m.links[[2]string{b, a}], nil
}

func (m *Memory) AddInvite(_ context.Context, inv Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[inv.AccountID] = append(m.invites[inv.AccountID], inv)
	return nil
}

func (m *Memory) TakeInvites(_ context.Context, accountID string) ([]Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.invites[accountID]
	delete(m.invites, accountID)
	return out, nil
}
