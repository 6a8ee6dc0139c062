package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sqldesk/sqldesk/pkg/models"
	"github.com/sqldesk/sqldesk/pkg/usage"
)

// ErrBudgetExceeded is returned when a user has used up a token budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Enforcer checks token usage against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	tracker  usage.Tracker
	now      func() time.Time
}

// New creates an Enforcer with the given policies and tracker.
func New(policies []models.BudgetPolicy, t usage.Tracker) *Enforcer {
	return &Enforcer{policies: policies, tracker: t, now: time.Now}
}

// Check returns ErrBudgetExceeded if the user has exceeded any applicable policy.
func (e *Enforcer) Check(ctx context.Context, username string) error {
	for _, p := range e.policiesFor(username) {
		used, err := e.tracker.TotalByUser(ctx, username, e.periodStart(p.Period))
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used >= p.MaxTokens {
			return fmt.Errorf("%w: %d of %d %s tokens used", ErrBudgetExceeded, used, p.MaxTokens, p.Period)
		}
	}
	return nil
}

// Status returns the budget status for a user across all applicable policies.
func (e *Enforcer) Status(ctx context.Context, username string) ([]models.BudgetStatus, error) {
	policies := e.policiesFor(username)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.tracker.TotalByUser(ctx, username, e.periodStart(p.Period))
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: max(p.MaxTokens-used, 0),
		})
	}
	return statuses, nil
}

func (e *Enforcer) policiesFor(username string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.Username == "*" || p.Username == username {
			result = append(result, p)
		}
	}
	return result
}

func (e *Enforcer) periodStart(period models.BudgetPeriod) time.Time {
	now := e.now().UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
