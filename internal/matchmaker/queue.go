package matchmaker

import (
	"errors"
	"slices"
	"time"

	"github.com/DoyleJ11/geoguess-server/internal/rating"
)

var (
	ErrAlreadyQueued = errors.New("already queued")
	ErrNotQueued     = errors.New("not queued")
)

const GroupSize = 2

type Ticket struct {
	AccountID  string
	Rating     int
	Mode       string
	EnqueuedAt time.Time

	reserved bool
}

func (t *Ticket) Wait(now time.Time) time.Duration { return now.Sub(t.EnqueuedAt) }
func (t *Ticket) Reserved() bool                   { return t.reserved }

// Group is a set of tickets pulled for one match.
type Group struct {
	Mode    string
	Tickets []*Ticket
}

func (g Group) AccountIDs() []string {
	ids := make([]string, len(g.Tickets))
	for i, t := range g.Tickets {
		ids[i] = t.AccountID
	}
	return ids
}

// Queue holds public matchmaking tickets in enqueue order. Owned by the hub loop.
type Queue struct {
	sel     rating.Selector
	tickets []*Ticket
	index   map[string]*Ticket
}

func NewQueue(sel rating.Selector) *Queue {
	return &Queue{sel: sel, index: make(map[string]*Ticket)}
}

func (q *Queue) Enqueue(accountID string, r int, mode string, now time.Time) (*Ticket, error) {
	if _, ok := q.index[accountID]; ok {
		return nil, ErrAlreadyQueued
	}
	t := &Ticket{AccountID: accountID, Rating: r, Mode: mode, EnqueuedAt: now}
	q.tickets = append(q.tickets, t)
	q.index[accountID] = t
	return t, nil
}

// Dequeue removes a ticket whether or not it is reserved. A reserved ticket
// that is dequeued simply drops out of its pending group.
func (q *Queue) Dequeue(accountID string) error {
	t, ok := q.index[accountID]
	if !ok {
		return ErrNotQueued
	}
	delete(q.index, accountID)
	q.tickets = slices.DeleteFunc(q.tickets, func(x *Ticket) bool { return x == t })
	return nil
}

func (q *Queue) Contains(accountID string) bool {
	_, ok := q.index[accountID]
	return ok
}

func (q *Queue) Ticket(accountID string) (*Ticket, bool) {
	t, ok := q.index[accountID]
	return t, ok
}

func (q *Queue) Len() int { return len(q.tickets) }

// Groups runs one matching pass. Tickets are visited oldest first; each pairs
// with the compatible partner that has waited longest. Grouped tickets are
// reserved, not removed: the caller either Commits or Releases them once the
// match is prepared.
func (q *Queue) Groups(now time.Time) []Group {
	var out []Group
	for i, a := range q.tickets {
		if a.reserved {
			continue
		}
		for _, b := range q.tickets[i+1:] {
			if b.reserved || b.Mode != a.Mode {
				continue
			}
			if !q.sel.Compatible(a.Rating, a.Wait(now), b.Rating, b.Wait(now)) {
				continue
			}
			a.reserved, b.reserved = true, true
			out = append(out, Group{Mode: a.Mode, Tickets: []*Ticket{a, b}})
			break
		}
	}
	return out
}

// Commit removes a prepared group's tickets. It reports false if any ticket
// left the queue while the group was pending, in which case the survivors are
// released back to the queue.
func (q *Queue) Commit(g Group) bool {
	for _, t := range g.Tickets {
		if q.index[t.AccountID] != t {
			q.Release(g)
			return false
		}
	}
	for _, t := range g.Tickets {
		_ = q.Dequeue(t.AccountID)
	}
	return true
}

// Release returns a group's tickets to the queue for the next pass.
func (q *Queue) Release(g Group) {
	for _, t := range g.Tickets {
		if q.index[t.AccountID] == t {
			t.reserved = false
		}
	}
}
