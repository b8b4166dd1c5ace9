// Package session keeps per-conversation workflow state with an inactivity TTL.
//
// Every entry has its own mutex. Advance holds it for the whole mutation,
// including any I/O the mutator performs, and the expiry timer takes the same
// mutex and checks the arm generation before removing the entry. A timer that
// fires while an advance is running therefore either waits and finds itself
// stale, or wins and the advance sees ErrNoSession.
package session

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNoSession     = errors.New("no active session")
	ErrSessionActive = errors.New("session already active")
)

const DefaultTTL = 2 * time.Minute

type Key struct {
	ChatID int64
	UserID int64
	Flow   string
}

type Session[T any] struct {
	Step      string
	Payload   T
	CreatedAt time.Time
	ExpiresAt time.Time
	Version   uint64
}

// Action tells Advance what to do with the session after the mutator returns.
type Action int

const (
	Keep Action = iota
	Finish
)

type ExpiryHook[T any] func(key Key, s Session[T])

type entry[T any] struct {
	mu    sync.Mutex
	s     Session[T]
	ttl   time.Duration
	timer *time.Timer
	gen   uint64
	dead  bool
}

type Store[T any] struct {
	mu       sync.Mutex
	entries  map[Key]*entry[T]
	ttl      time.Duration
	onExpire ExpiryHook[T]
	now      func() time.Time
}

func New[T any](ttl time.Duration, onExpire ExpiryHook[T]) *Store[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store[T]{
		entries:  make(map[Key]*entry[T]),
		ttl:      ttl,
		onExpire: onExpire,
		now:      time.Now,
	}
}

// Create installs a new session. It fails with ErrSessionActive while one exists for key.
// A zero ttl uses the store default.
func (st *Store[T]) Create(key Key, step string, payload T, ttl time.Duration) (Session[T], error) {
	if ttl <= 0 {
		ttl = st.ttl
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.entries[key]; ok {
		return Session[T]{}, ErrSessionActive
	}

	now := st.now()
	e := &entry[T]{
		s: Session[T]{
			Step:      step,
			Payload:   payload,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			Version:   1,
		},
		ttl: ttl,
	}
	st.entries[key] = e
	st.arm(key, e)
	return e.s, nil
}

// Advance runs fn against the live session. Changes made by fn are kept and the
// TTL re-armed unless fn returns Finish, which destroys the session.
// The error returned by fn is passed through after the action is applied.
func (st *Store[T]) Advance(key Key, fn func(s *Session[T]) (Action, error)) error {
	e := st.lookup(key)
	if e == nil {
		return ErrNoSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return ErrNoSession
	}

	working := e.s
	action, err := fn(&working)
	if action == Finish {
		st.kill(key, e)
		return err
	}

	working.Version = e.s.Version + 1
	working.ExpiresAt = st.now().Add(e.ttl)
	e.s = working
	st.arm(key, e)
	return err
}

// Cancel removes the session without firing the expiry hook and reports whether one existed.
func (st *Store[T]) Cancel(key Key) bool {
	e := st.lookup(key)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return false
	}
	st.kill(key, e)
	return true
}

func (st *Store[T]) Active(key Key) bool {
	return st.lookup(key) != nil
}

// Get returns a snapshot of the session. It waits for a running Advance on the same key.
func (st *Store[T]) Get(key Key) (Session[T], bool) {
	e := st.lookup(key)
	if e == nil {
		return Session[T]{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Session[T]{}, false
	}
	return e.s, true
}

func (st *Store[T]) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

func (st *Store[T]) lookup(key Key) *entry[T] {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.entries[key]
}

// arm must be called with e.mu held or before e is shared.
func (st *Store[T]) arm(key Key, e *entry[T]) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(e.ttl, func() {
		st.expire(key, e, gen)
	})
}

// kill must be called with e.mu held.
func (st *Store[T]) kill(key Key, e *entry[T]) {
	e.dead = true
	if e.timer != nil {
		e.timer.Stop()
	}
	st.mu.Lock()
	if st.entries[key] == e {
		delete(st.entries, key)
	}
	st.mu.Unlock()
}

func (st *Store[T]) expire(key Key, e *entry[T], gen uint64) {
	e.mu.Lock()
	if e.dead || e.gen != gen {
		e.mu.Unlock()
		return
	}
	st.kill(key, e)
	snapshot := e.s
	e.mu.Unlock()

	if st.onExpire != nil {
		st.onExpire(key, snapshot)
	}
}
