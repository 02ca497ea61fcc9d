package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sendTokenTTL is how long a delivered-send token is retained. One cycle
// evaluation window is a day, so two days comfortably covers job-engine
// retries without blocking the next due date.
const sendTokenTTL = 48 * time.Hour

// sendingTTL is the lock duration while a send attempt is in flight.
const sendingTTL = 5 * time.Minute

const sendingMarker = "sending"

// ErrAlreadySent indicates a duplicate dispatch for the same send token.
var ErrAlreadySent = errors.New("duplicate dispatch: send token already delivered")

// SendGuard deduplicates notification sends. Each attempt is keyed by a
// deterministic token (account id + due date + channel); a retried job that
// re-dispatches an already-delivered send is skipped instead of re-sent.
type SendGuard struct {
	client *Client
}

// NewSendGuard creates a new send guard.
func NewSendGuard(client *Client) *SendGuard {
	return &SendGuard{client: client}
}

// Token builds the deterministic dedup token for one channel send.
func Token(accountID, channel string, due time.Time) string {
	return fmt.Sprintf("send:%s:%s:%s", accountID, due.UTC().Format("2006-01-02"), channel)
}

// Reserve acquires the token with SET NX. Returns ErrAlreadySent when the
// token was already delivered, false when another attempt holds the lock.
func (g *SendGuard) Reserve(ctx context.Context, token string) (bool, error) {
	set, err := g.client.rdb.SetNX(ctx, token, sendingMarker, sendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if set {
		return true, nil
	}

	val, err := g.client.rdb.Get(ctx, token).Result()
	if err == redis.Nil {
		// Lock expired between SetNX and Get; treat as contended.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if val != sendingMarker {
		return false, ErrAlreadySent
	}

	return false, nil
}

// MarkDelivered records a successful send under the token.
func (g *SendGuard) MarkDelivered(ctx context.Context, token string) error {
	if err := g.client.rdb.Set(ctx, token, "delivered", sendTokenTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release frees the token after a failed attempt so a retried job can send.
func (g *SendGuard) Release(ctx context.Context, token string) error {
	if err := g.client.rdb.Del(ctx, token).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
