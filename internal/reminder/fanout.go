package reminder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserSource enumerates the users owning at least one account.
type UserSource interface {
	DistinctAccountUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Fanout splits one reminder run into independent per-user jobs so that
// one user's failure or delay never blocks another's.
type Fanout struct {
	users      UserSource
	evaluator  *Evaluator
	dispatcher *Dispatcher
	queue      Enqueuer
	logger     *zap.Logger
}

func NewFanout(users UserSource, evaluator *Evaluator, dispatcher *Dispatcher, queue Enqueuer, logger *zap.Logger) *Fanout {
	return &Fanout{
		users:      users,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		queue:      queue,
		logger:     logger,
	}
}

// RunAll enqueues one independent evaluation job per distinct user. A
// failed enqueue for one user is logged and enumeration continues.
func (f *Fanout) RunAll(ctx context.Context) error {
	ids, err := f.users.DistinctAccountUserIDs(ctx)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, id := range ids {
		userID := id
		name := fmt.Sprintf("reminder-user:%s", userID)
		if err := f.queue.Enqueue(name, func(ctx context.Context) error {
			return f.RunForUser(ctx, userID)
		}); err != nil {
			f.logger.Error("failed to enqueue per-user reminder job",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			continue
		}
		enqueued++
	}

	f.logger.Info("reminder fan-out completed",
		zap.Int("users", len(ids)),
		zap.Int("enqueued", enqueued),
	)

	return nil
}

// RunForUser evaluates one user's accounts and enqueues one independent
// dispatch job per due account.
func (f *Fanout) RunForUser(ctx context.Context, userID uuid.UUID) error {
	due, err := f.evaluator.Due(ctx, &userID)
	if err != nil {
		return err
	}

	for _, acc := range due {
		acc := acc
		name := fmt.Sprintf("dispatch:%s", acc.ID)
		if err := f.queue.Enqueue(name, func(ctx context.Context) error {
			return f.dispatcher.Dispatch(ctx, acc.ID, acc.Name, acc.UserID, acc.DueDate())
		}); err != nil {
			f.logger.Error("failed to enqueue dispatch job",
				zap.String("account_id", acc.ID.String()),
				zap.Error(err),
			)
		}
	}

	if len(due) > 0 {
		f.logger.Info("due accounts dispatched",
			zap.String("user_id", userID.String()),
			zap.Int("due", len(due)),
		)
	}

	return nil
}
