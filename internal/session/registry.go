// Package session owns session liveness: at most one live session exists
// per username, and every privileged operation validates against the
// registry before doing anything.
package session

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbardale/strikesentry/internal/models"
	"github.com/tbardale/strikesentry/internal/storage"
)

// Session is the value describing one live session. The registry is the
// sole owner of liveness; holding a Session does not keep it alive.
type Session struct {
	Username     string    `json:"username"`
	Token        string    `json:"token"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"-"`
}

// RevokeHook is called whenever a user's session is invalidated, before the
// registry state changes become visible. The engine registers one to stop
// the user's bot and discard their state.
type RevokeHook func(username string)

type entry struct {
	mu           sync.Mutex
	token        string
	createdAt    time.Time
	lastActivity time.Time
}

// Registry is the process-wide session table. The outer mutex guards only
// the map structure; each user's entry carries its own lock so cross-user
// operations never serialize unrelated users.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	file     *storage.File
	logger   *log.Logger
	hooks    []RevokeHook

	// tableMu guards the durable image written to disk, so persisting one
	// user's mutation never reads another user's entry.
	tableMu sync.Mutex
	table   map[string]persistedSession
}

// persistedSession is the durable image of a session. Activity timestamps
// are process-lifetime only.
type persistedSession struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRegistry loads the persisted token table, if present, so tokens issued
// before a restart are still recognized (and stale ones still rejected).
func NewRegistry(file *storage.File, logger *log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[SESSIONS] ", log.LstdFlags)
	}
	r := &Registry{
		sessions: make(map[string]*entry),
		file:     file,
		logger:   logger,
		table:    make(map[string]persistedSession),
	}

	if file.Exists() {
		var table map[string]persistedSession
		if err := file.Load(&table); err != nil {
			return nil, fmt.Errorf("loading session table: %w", err)
		}
		now := time.Now()
		for username, ps := range table {
			r.sessions[username] = &entry{
				token:        ps.Token,
				createdAt:    ps.CreatedAt,
				lastActivity: now,
			}
			r.table[username] = ps
		}
	}
	return r, nil
}

// OnRevoke registers a hook to run when a session is invalidated. Hooks run
// with the affected user's entry lock held, so teardown and token install
// are atomic with respect to that user.
func (r *Registry) OnRevoke(hook RevokeHook) {
	r.hooks = append(r.hooks, hook)
}

// Register installs a fresh session token for the user, invalidating any
// prior session first. Stopping the old bot, discarding its state and
// installing the new token happen under the user's lock as one step.
func (r *Registry) Register(username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("username must not be empty")
	}

	e := r.getOrCreate(username)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != "" {
		for _, hook := range r.hooks {
			hook(username)
		}
	}

	token := uuid.New().String()
	now := time.Now()
	e.token = token
	e.createdAt = now
	e.lastActivity = now

	r.persistSet(username, persistedSession{Token: token, CreatedAt: now})
	return token, nil
}

// Validate checks a presented token. A user who never registered gets
// ErrAuthRequired. An entry with an empty token means a session existed and
// was revoked or swept; that and a mismatched token both get
// ErrSessionExpired, so callers can tell "never logged in" from a torn-down
// session.
func (r *Registry) Validate(username, token string) error {
	r.mu.RLock()
	e, ok := r.sessions[username]
	r.mu.RUnlock()

	if !ok {
		return models.ErrAuthRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token != token || e.token == "" {
		return models.ErrSessionExpired
	}
	return nil
}

// Touch records activity for the user's session. Called by the public
// surface on every authenticated call.
func (r *Registry) Touch(username string) {
	r.mu.RLock()
	e, ok := r.sessions[username]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.lastActivity = time.Now()
	e.mu.Unlock()
}

// Revoke tears down the user's session. Safe to call when no session is
// live.
func (r *Registry) Revoke(username string) {
	r.mu.RLock()
	e, ok := r.sessions[username]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token == "" {
		return
	}
	for _, hook := range r.hooks {
		hook(username)
	}
	e.token = ""
	r.persistDelete(username)
}

// Active returns a snapshot of live sessions.
func (r *Registry) Active() []Session {
	r.mu.RLock()
	names := make([]string, 0, len(r.sessions))
	for username := range r.sessions {
		names = append(names, username)
	}
	r.mu.RUnlock()

	out := make([]Session, 0, len(names))
	for _, username := range names {
		r.mu.RLock()
		e := r.sessions[username]
		r.mu.RUnlock()

		e.mu.Lock()
		if e.token != "" {
			out = append(out, Session{
				Username:     username,
				Token:        e.token,
				CreatedAt:    e.createdAt,
				LastActivity: e.lastActivity,
			})
		}
		e.mu.Unlock()
	}
	return out
}

// RevokeIfIdle revokes the user's session only if its last activity,
// read under the user's lock at decision time, is older than the deadline.
// Returns true if the session was revoked.
func (r *Registry) RevokeIfIdle(username string, deadline time.Time) bool {
	r.mu.RLock()
	e, ok := r.sessions[username]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token == "" || !e.lastActivity.Before(deadline) {
		return false
	}
	for _, hook := range r.hooks {
		hook(username)
	}
	e.token = ""
	r.persistDelete(username)
	return true
}

func (r *Registry) getOrCreate(username string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[username]
	if !ok {
		e = &entry{lastActivity: time.Now()}
		r.sessions[username] = e
	}
	return e
}

func (r *Registry) persistSet(username string, ps persistedSession) {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()
	r.table[username] = ps
	r.saveTableLocked()
}

func (r *Registry) persistDelete(username string) {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()
	delete(r.table, username)
	r.saveTableLocked()
}

// saveTableLocked writes the durable image. Failures are logged; the
// in-memory table remains authoritative for this process lifetime.
func (r *Registry) saveTableLocked() {
	if err := r.file.Save(r.table); err != nil {
		r.logger.Printf("persisting session table failed (in-memory table remains authoritative): %v", err)
	}
}
