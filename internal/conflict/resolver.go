// Package conflict picks a winner among concurrent claims on one ticket.
package conflict

import (
	"errors"
	"sort"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// ErrUnknownAttempt is returned when a manual choice names no attempt in the conflict.
var ErrUnknownAttempt = errors.New("conflict attempt not found")

// Decision is the outcome of resolving a conflict. Winner indexes Attempts and
// is -1 when the conflict stays open.
type Decision struct {
	Strategy domain.ResolutionStrategy
	Winner   int
	Resolved bool
	Attempts []domain.ConflictAttempt
}

// WinningAttempt returns the chosen attempt, or nil.
func (d Decision) WinningAttempt() *domain.ConflictAttempt {
	if d.Winner < 0 || d.Winner >= len(d.Attempts) {
		return nil
	}
	return &d.Attempts[d.Winner]
}

// Resolve applies strategy to attempts. It never mutates its input; the
// returned attempts carry WasSuccessful for the winner only. Unknown
// strategies resolve first come first serve.
func Resolve(strategy domain.ResolutionStrategy, attempts []domain.ConflictAttempt) Decision {
	if !strategy.Valid() {
		strategy = domain.StrategyFirstComeFirstServe
	}
	decision := Decision{Strategy: strategy, Winner: -1, Attempts: cloneAttempts(attempts)}
	if len(attempts) == 0 || strategy == domain.StrategyManualReview {
		return decision
	}

	order := make([]int, len(attempts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := attempts[order[a]], attempts[order[b]]
		if strategy == domain.StrategyAdminPriority {
			if rx, ry := rank(x.AttempterRole), rank(y.AttempterRole); rx != ry {
				return rx < ry
			}
		}
		if !x.AttemptTimestamp.Equal(y.AttemptTimestamp) {
			return x.AttemptTimestamp.Before(y.AttemptTimestamp)
		}
		return x.AttempterID < y.AttempterID
	})

	return decision.with(order[0])
}

// Choose resolves a conflict manually in favour of attemptID.
func Choose(attempts []domain.ConflictAttempt, attemptID string) (Decision, error) {
	decision := Decision{Strategy: domain.StrategyManualReview, Winner: -1, Attempts: cloneAttempts(attempts)}
	for i, attempt := range attempts {
		if attempt.ID == attemptID {
			return decision.with(i), nil
		}
	}
	return decision, ErrUnknownAttempt
}

func (d Decision) with(winner int) Decision {
	for i := range d.Attempts {
		d.Attempts[i].WasSuccessful = i == winner
	}
	d.Winner = winner
	d.Resolved = true
	return d
}

func rank(role domain.Role) int {
	switch role {
	case domain.RoleAdmin:
		return 0
	case domain.RoleProjectManager:
		return 1
	default:
		return 2
	}
}

func cloneAttempts(attempts []domain.ConflictAttempt) []domain.ConflictAttempt {
	out := make([]domain.ConflictAttempt, len(attempts))
	copy(out, attempts)
	return out
}
