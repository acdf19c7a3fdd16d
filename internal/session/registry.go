package session

import (
	"errors"
	"time"
)

var (
	ErrDuplicateConn = errors.New("connection id already registered")
	ErrUnknownConn   = errors.New("unknown connection")
)

// Registry resolves connections and accounts to sessions. It is not safe for
// concurrent use; the hub loop owns it.
type Registry struct {
	byConn    map[string]*Session
	byAccount map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:    make(map[string]*Session),
		byAccount: make(map[string]*Session),
	}
}

// Admit registers a fresh, unverified session for conn.
func (r *Registry) Admit(conn *Conn) (*Session, error) {
	if _, ok := r.byConn[conn.ID]; ok {
		return nil, ErrDuplicateConn
	}
	s := &Session{ConnID: conn.ID, Conn: conn}
	r.byConn[conn.ID] = s
	return s, nil
}

func (r *Registry) ByConn(connID string) (*Session, bool) {
	s, ok := r.byConn[connID]
	return s, ok
}

func (r *Registry) ByAccount(accountID string) (*Session, bool) {
	s, ok := r.byAccount[accountID]
	return s, ok
}

// Bind marks s verified as accountID and indexes it.
func (r *Registry) Bind(s *Session, accountID, name string, rating int) {
	s.AccountID = accountID
	s.Name = name
	s.Rating = rating
	s.Verified = true
	r.byAccount[accountID] = s
}

// Adopt moves the connection of the unverified session fresh onto the existing
// session s, which may still hold an older connection. The older connection
// is returned so the caller can notify and close it.
func (r *Registry) Adopt(s, fresh *Session) (old *Conn) {
	delete(r.byConn, fresh.ConnID)
	if s.Conn != nil && !s.Disconnected {
		old = s.Conn
	}
	if s.ConnID != "" {
		delete(r.byConn, s.ConnID)
	}
	s.Conn = fresh.Conn
	s.ConnID = fresh.ConnID
	s.Disconnected = false
	s.DisconnectedAt = time.Time{}
	r.byConn[s.ConnID] = s
	return old
}

// Retire handles a closed connection. Unverified sessions are dropped
// outright and reported as gone; verified ones are kept, marked disconnected,
// for the reconnect grace window.
func (r *Registry) Retire(connID string, now time.Time) (s *Session, kept bool, err error) {
	s, ok := r.byConn[connID]
	if !ok {
		return nil, false, ErrUnknownConn
	}
	delete(r.byConn, connID)
	if !s.Verified {
		return s, false, nil
	}
	s.Disconnected = true
	s.DisconnectedAt = now
	s.ConnID = ""
	return s, true, nil
}

// Evict forgets s completely.
func (r *Registry) Evict(s *Session) {
	if s.ConnID != "" && r.byConn[s.ConnID] == s {
		delete(r.byConn, s.ConnID)
	}
	if s.AccountID != "" && r.byAccount[s.AccountID] == s {
		delete(r.byAccount, s.AccountID)
	}
}

func (r *Registry) Connections() int { return len(r.byConn) }
func (r *Registry) Accounts() int    { return len(r.byAccount) }

// Each visits every verified session.
func (r *Registry) Each(fn func(*Session)) {
	for _, s := range r.byAccount {
		fn(s)
	}
}

// EachConn visits every session with a live connection, verified or not.
func (r *Registry) EachConn(fn func(*Session)) {
	for _, s := range r.byConn {
		fn(s)
	}
}
