package validation

import (
	"fmt"
	"sync"
	"time"
)

// RetryConfig bounds how often a step may fail before escalation.
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	BackoffBase       time.Duration `json:"backoff_base"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryState tracks consecutive failures of one step within one session.
type RetryState struct {
	SessionID   string    `json:"session_id"`
	Step        string    `json:"step"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// RetryManager tracks failure attempts per (session, step) so the engine can
// escalate a revision loop that never converges.
type RetryManager struct {
	config RetryConfig
	states map[string]*RetryState
	mu     sync.RWMutex
}

// NewRetryManager creates a retry manager.
func NewRetryManager(config RetryConfig) *RetryManager {
	if config.MaxAttempts <= 0 {
		config = DefaultRetryConfig()
	}
	return &RetryManager{
		config: config,
		states: make(map[string]*RetryState),
	}
}

func stateKey(sessionID, step string) string {
	return fmt.Sprintf("%s:%s", sessionID, step)
}

// RecordFailure records a failed attempt and returns the attempt count.
func (m *RetryManager) RecordFailure(sessionID, step, errorMsg string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stateKey(sessionID, step)
	state, exists := m.states[key]
	if !exists {
		state = &RetryState{
			SessionID: sessionID,
			Step:      step,
			CreatedAt: time.Now(),
		}
		m.states[key] = state
	}

	state.Attempts++
	state.LastAttempt = time.Now()
	state.LastError = errorMsg
	return state.Attempts
}

// CanRetry reports whether another attempt is within budget. A budget of
// zero on the caller's side means unlimited and should skip this check.
func (m *RetryManager) CanRetry(sessionID, step string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[stateKey(sessionID, step)]
	if !exists {
		return true
	}
	return state.Attempts < m.config.MaxAttempts
}

// Attempts returns the recorded attempt count.
func (m *RetryManager) Attempts(sessionID, step string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, exists := m.states[stateKey(sessionID, step)]; exists {
		return state.Attempts
	}
	return 0
}

// Backoff returns the exponential backoff duration before the next attempt.
func (m *RetryManager) Backoff(sessionID, step string) time.Duration {
	attempts := m.Attempts(sessionID, step)
	if attempts == 0 {
		return 0
	}

	multiplier := 1.0
	for i := 1; i < attempts; i++ {
		multiplier *= m.config.BackoffMultiplier
	}
	return time.Duration(float64(m.config.BackoffBase) * multiplier)
}

// Clear drops the state for one step, called when the step finally succeeds.
func (m *RetryManager) Clear(sessionID, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, stateKey(sessionID, step))
}

// ClearSession drops all retry state for a session.
func (m *RetryManager) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := sessionID + ":"
	for key := range m.states {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.states, key)
		}
	}
}
