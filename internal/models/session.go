package models

import "time"

// FunctionStatus is the per-function progress state.
type FunctionStatus string

const (
	StatusPending    FunctionStatus = "pending"
	StatusInProgress FunctionStatus = "in_progress"
	StatusDone       FunctionStatus = "done"
	StatusFailed     FunctionStatus = "failed"
	StatusEscalated  FunctionStatus = "escalated"
)

// Terminal reports whether the status accepts no further rounds.
func (s FunctionStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusEscalated
}

// RoundPhase records which kind of propose call produced a round's candidate.
type RoundPhase string

const (
	PhaseDraft RoundPhase = "draft"
	PhaseFix   RoundPhase = "fix"
)

// ReviewRound is one draft-or-fix attempt and its verdict. Rounds are
// append-only within an entry; history is never rewritten.
type ReviewRound struct {
	ID        string
	Number    int // 1-based
	Phase     RoundPhase
	Candidate string
	Verdict   ParityVerdict
	FixHints  string // instructions handed to the next fix attempt, if any
	Err       string // capability failure that ended the round, if any
	CreatedAt time.Time
}

// SessionEntry is the durable record of one function's review run: status
// plus full round history. Owned by the session store; the review loop only
// appends. A re-run of a terminal function starts a fresh entry, the old one
// stays for audit.
type SessionEntry struct {
	ID        string
	Address   string
	Class     string
	Function  string
	Status    FunctionStatus
	Rounds    []ReviewRound
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the entry's function identity.
func (e *SessionEntry) Key() FunctionKey {
	return FunctionKey{Address: e.Address, Class: e.Class, Function: e.Function}
}

// LastVerdict returns the verdict of the most recent round, or nil for an
// entry with no rounds.
func (e *SessionEntry) LastVerdict() *ParityVerdict {
	for i := len(e.Rounds) - 1; i >= 0; i-- {
		if e.Rounds[i].Verdict.Status != "" {
			v := e.Rounds[i].Verdict
			return &v
		}
	}
	return nil
}
