// Package reminder implements the reminder pipeline: evaluation of due
// accounts, the recurring scheduler, per-user fan-out and multi-channel
// notification dispatch.
package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ainasago/AccountMaintan-sub000/internal/db"
	"github.com/ainasago/AccountMaintan-sub000/internal/metrics"
)

// CandidateSource loads accounts that could be due at all.
type CandidateSource interface {
	ListReminderCandidates(ctx context.Context, userID *uuid.UUID) ([]*db.Account, error)
}

// Evaluator determines which accounts are due for a reminder. It has no
// side effects and propagates storage errors to the caller unchanged.
type Evaluator struct {
	store  CandidateSource
	logger *zap.Logger
	now    func() time.Time
}

func NewEvaluator(store CandidateSource, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Due returns the accounts due for a reminder, optionally scoped to one
// user. The due predicate runs in application code because it mixes a
// nullable timestamp with a per-row cycle length.
func (e *Evaluator) Due(ctx context.Context, userID *uuid.UUID) ([]*db.Account, error) {
	candidates, err := e.store.ListReminderCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var due []*db.Account
	for _, acc := range candidates {
		if acc.ReminderDue(now) {
			due = append(due, acc)
		}
	}

	metrics.RecordDueAccounts(len(due))

	e.logger.Debug("reminder evaluation completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("due", len(due)),
	)

	return due, nil
}
