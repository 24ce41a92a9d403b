package tools

import (
	"sync"
	"time"
)

// Scope is the lifetime of one approval grant.
type Scope string

const (
	ScopeOnce    Scope = "once"
	ScopeSession Scope = "session"
	ScopeProject Scope = "project"
	ScopeDeny    Scope = "deny"
)

// Grant is an ephemeral approval held in memory by the daemon. Session
// grants die with the RPC connection that created them; project grants
// die with the daemon.
type Grant struct {
	Action    string
	Scope     Scope
	SessionID string
	GrantedAt time.Time
}

// Prompter asks the user to confirm an action. The terminal
// implementation lives in the CLI; tests inject fakes.
type Prompter interface {
	Confirm(action, detail string) (Scope, error)
}

// Approvals tracks in-memory grants.
type Approvals struct {
	mu     sync.Mutex
	grants []Grant
}

// NewApprovals returns an empty grant set.
func NewApprovals() *Approvals {
	return &Approvals{}
}

// Granted reports whether a standing grant covers the action for the
// given session. Once-grants never land here; they apply inline.
func (a *Approvals) Granted(action, sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, g := range a.grants {
		if g.Action != action {
			continue
		}
		switch g.Scope {
		case ScopeProject:
			return true
		case ScopeSession:
			if g.SessionID == sessionID {
				return true
			}
		}
	}
	return false
}

// Record stores a session or project grant.
func (a *Approvals) Record(action string, scope Scope, sessionID string) {
	if scope != ScopeSession && scope != ScopeProject {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grants = append(a.grants, Grant{
		Action:    action,
		Scope:     scope,
		SessionID: sessionID,
		GrantedAt: time.Now(),
	})
}

// DropSession removes every grant scoped to a finished session.
func (a *Approvals) DropSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.grants[:0]
	for _, g := range a.grants {
		if g.Scope == ScopeSession && g.SessionID == sessionID {
			continue
		}
		kept = append(kept, g)
	}
	a.grants = kept
}
