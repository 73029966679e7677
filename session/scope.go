package session

import "fmt"

// Scope is the ambient authorization/tenancy context every engine operation
// is validated against. The engine never constructs one; callers supply it
// from their authenticated request context.
type Scope struct {
	// UserID is the current user.
	UserID string `json:"user_id"`

	// AccountID is the active tenant account.
	AccountID string `json:"account_id"`

	// ProjectID is the active project within the account.
	ProjectID string `json:"project_id"`
}

// TenancyViolation signals that a scope attempted to mutate a session owned
// by another account. This should never happen given correct routing
// upstream, so it surfaces as a panic rather than a recoverable error —
// masking it as a soft error would hide real bugs.
type TenancyViolation struct {
	ScopeAccount   string
	SessionAccount string
	SessionID      string
}

// Error implements error.
func (v *TenancyViolation) Error() string {
	return fmt.Sprintf("tenancy violation: scope account %q cannot access session %s owned by account %q",
		v.ScopeAccount, v.SessionID, v.SessionAccount)
}

// MustOwn panics with a *TenancyViolation when the scope's account does not
// match the session's account. Called on every mutating engine operation.
func MustOwn(scope Scope, s *Session) {
	if scope.AccountID == "" || scope.AccountID != s.AccountID {
		panic(&TenancyViolation{
			ScopeAccount:   scope.AccountID,
			SessionAccount: s.AccountID,
			SessionID:      s.ID,
		})
	}
}
