// Package auth provides the durable credential store: username to password
// hash plus the user's linked brokerage access token.
package auth

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tbardale/strikesentry/internal/models"
	"github.com/tbardale/strikesentry/internal/storage"
)

// User is one durable user record. Records are never deleted automatically.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	BrokerToken  string    `json:"broker_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store holds user records in memory and persists them through a JSON file.
// Persistence is best-effort: a failed save is logged and the in-memory
// table stays authoritative for the rest of the process lifetime.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*User
	file   *storage.File
	logger *log.Logger
}

// NewStore loads existing users from the backing file, if present.
func NewStore(file *storage.File, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[AUTH] ", log.LstdFlags)
	}
	s := &Store{
		users:  make(map[string]*User),
		file:   file,
		logger: logger,
	}

	if file.Exists() {
		var records map[string]*User
		if err := file.Load(&records); err != nil {
			return nil, fmt.Errorf("loading user table: %w", err)
		}
		if records != nil {
			s.users = records
		}
	}
	return s, nil
}

// Create adds a user, hashing the password with bcrypt. The create-if-absent
// check and the insert happen under one lock, so two concurrent signups for
// the same name cannot both succeed.
func (s *Store) Create(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password must not be empty: %w", models.ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return models.ErrUserExists
	}
	s.users[username] = &User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	s.persistLocked()
	return nil
}

// Authenticate verifies a username/password pair.
func (s *Store) Authenticate(username, password string) error {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		return models.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return models.ErrInvalidCredentials
	}
	return nil
}

// LinkBroker attaches a brokerage access token to the user.
func (s *Store) LinkBroker(username, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return models.ErrUserNotFound
	}
	u.BrokerToken = accessToken
	s.persistLocked()
	return nil
}

// BrokerToken returns the user's linked brokerage token.
func (s *Store) BrokerToken(username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return "", models.ErrUserNotFound
	}
	if u.BrokerToken == "" {
		return "", models.ErrNoBrokerLink
	}
	return u.BrokerToken, nil
}

// Exists reports whether a username is registered.
func (s *Store) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

func (s *Store) persistLocked() {
	if err := s.file.Save(s.users); err != nil {
		s.logger.Printf("persisting user table failed (in-memory table remains authoritative): %v", err)
	}
}
