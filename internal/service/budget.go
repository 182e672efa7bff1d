package service

import (
	"sync/atomic"

	ierr "github.com/flexprice/dealpay/internal/errors"
)

// SessionBudget is the per run ceiling on sessions the engine acts on:
// sessions created by the orchestrator plus sessions written to the ledger by
// reconciliation. A nil budget is unlimited.
type SessionBudget struct {
	limit int64
	used  atomic.Int64
}

func NewSessionBudget(limit int) *SessionBudget {
	return &SessionBudget{limit: int64(limit)}
}

// Take claims one session and reports false once the ceiling is passed
func (b *SessionBudget) Take() bool {
	if b == nil || b.limit <= 0 {
		return true
	}
	return b.used.Add(1) <= b.limit
}

// Exhausted reports whether a claim was already refused
func (b *SessionBudget) Exhausted() bool {
	if b == nil || b.limit <= 0 {
		return false
	}
	return b.used.Load() > b.limit
}

// Used returns how many sessions were granted
func (b *SessionBudget) Used() int {
	if b == nil {
		return 0
	}
	used := b.used.Load()
	if b.limit > 0 && used > b.limit {
		return int(b.limit)
	}
	return int(used)
}

func (b *SessionBudget) exceeded() error {
	return ierr.NewErrorf("session limit of %d per run exceeded", b.limit).
		WithHint("The run stopped at its session ceiling; remaining work continues on the next run").
		WithReportableDetails(map[string]any{"limit": b.limit}).
		Mark(ierr.ErrSessionLimitExceeded)
}
