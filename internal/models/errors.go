package models

import (
	"errors"
	"fmt"
)

// Error taxonomy for the public surface. Every privileged operation maps its
// failure onto exactly one of these so clients can implement a single
// re-authentication path.
var (
	// ErrAuthRequired means the caller has no session at all.
	ErrAuthRequired = errors.New("authentication required")
	// ErrSessionExpired means a session existed but was superseded or swept.
	ErrSessionExpired = errors.New("session expired")
	// ErrUpstreamUnavailable means the quote gateway or order dispatcher
	// failed or returned malformed data.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidOperation covers synchronous rejections such as starting an
	// already-running bot.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Specific invalid-operation conditions. They wrap ErrInvalidOperation so
// callers can match either the broad class or the exact condition.
var (
	ErrAlreadyRunning = fmt.Errorf("bot already running: %w", ErrInvalidOperation)
	ErrNotRunning     = fmt.Errorf("bot not running: %w", ErrInvalidOperation)
	ErrNoBrokerLink   = fmt.Errorf("no broker credential linked: %w", ErrInvalidOperation)
)

// Credential store errors.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
