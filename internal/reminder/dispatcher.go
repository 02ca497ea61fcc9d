package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ainasago/AccountMaintan-sub000/internal/db"
	"github.com/ainasago/AccountMaintan-sub000/internal/metrics"
	"github.com/ainasago/AccountMaintan-sub000/internal/notify"
	"github.com/ainasago/AccountMaintan-sub000/internal/push"
	"github.com/ainasago/AccountMaintan-sub000/internal/redis"
)

// RecordStore is the repository slice the dispatcher needs.
type RecordStore interface {
	AppendDeliveryRecord(ctx context.Context, rec *db.DeliveryRecord) error
	GetSettings(ctx context.Context) (*db.Settings, error)
}

// Enqueuer submits independent jobs to the job engine.
type Enqueuer interface {
	Enqueue(name string, fn func(ctx context.Context) error) error
}

// Broadcaster pushes one event to all connected in-app clients.
type Broadcaster interface {
	BroadcastAll(event push.Event) int
}

// ChatPoster posts one message to a chat webhook.
type ChatPoster interface {
	Send(ctx context.Context, webhookURL, text string) error
}

// SendGuard deduplicates sends across job-engine retries.
type SendGuard interface {
	Reserve(ctx context.Context, token string) (bool, error)
	MarkDelivered(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
}

// Dispatcher delivers one reminder over each enabled channel. The channel
// sends are scheduled as independent jobs: a failure in one channel never
// prevents or delays the others. Every channel attempt appends exactly one
// delivery record.
type Dispatcher struct {
	store RecordStore
	queue Enqueuer

	mailers     map[string]notify.Mailer // keyed by provider, may be empty
	emailFrom   string
	chat        ChatPoster
	chatWebhook string // fallback when the settings document has none
	hub         Broadcaster
	guard       SendGuard // nil when redis is unavailable

	logger *zap.Logger
	now    func() time.Time
}

type DispatcherConfig struct {
	EmailFrom   string
	ChatWebhook string
}

func NewDispatcher(
	store RecordStore,
	queue Enqueuer,
	mailers map[string]notify.Mailer,
	chat ChatPoster,
	hub Broadcaster,
	guard SendGuard,
	cfg DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:       store,
		queue:       queue,
		mailers:     mailers,
		emailFrom:   cfg.EmailFrom,
		chat:        chat,
		chatWebhook: cfg.ChatWebhook,
		hub:         hub,
		guard:       guard,
		logger:      logger,
		now:         time.Now,
	}
}

// Dispatch enqueues the three channel sends for one due account as
// independent jobs. An enqueue failure for one channel is reported but
// does not stop the remaining channels from being enqueued. dueAt is
// the account's computed due date, which keys the duplicate-send token
// so a retry crossing midnight cannot mint a fresh one.
func (d *Dispatcher) Dispatch(ctx context.Context, accountID uuid.UUID, accountName string, userID uuid.UUID, dueAt time.Time) error {
	type channelJob struct {
		channel string
		run     func(ctx context.Context) error
	}

	jobs := []channelJob{
		{db.ChannelInApp, func(ctx context.Context) error {
			return d.SendInApp(ctx, accountID, accountName, userID)
		}},
		{db.ChannelEmail, func(ctx context.Context) error {
			return d.SendEmail(ctx, accountID, accountName, userID, dueAt)
		}},
		{db.ChannelChat, func(ctx context.Context) error {
			return d.SendChat(ctx, accountID, accountName, userID, dueAt)
		}},
	}

	var firstErr error
	for _, job := range jobs {
		name := fmt.Sprintf("send-%s:%s", job.channel, accountID)
		if err := d.queue.Enqueue(name, job.run); err != nil {
			d.logger.Error("failed to enqueue channel send",
				zap.String("channel", job.channel),
				zap.String("account_id", accountID.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// SendInApp broadcasts a reminder event to all connected clients.
// Best-effort: broadcast problems are recorded, never thrown upward.
func (d *Dispatcher) SendInApp(ctx context.Context, accountID uuid.UUID, accountName string, userID uuid.UUID) error {
	settings, err := d.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.InApp.Enabled {
		return nil
	}

	return d.deliverInApp(ctx, db.KindReminder, &accountID, accountName, userID)
}

// SendEmail renders and sends the reminder email if the channel is enabled.
func (d *Dispatcher) SendEmail(ctx context.Context, accountID uuid.UUID, accountName string, userID uuid.UUID, dueAt time.Time) error {
	settings, err := d.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.Email.Enabled {
		return nil
	}

	token := redis.Token(accountID.String(), db.ChannelEmail, dueAt)
	if skip, err := d.reserve(ctx, token); err != nil {
		return err
	} else if skip {
		return nil
	}

	return d.deliverEmail(ctx, db.KindReminder, settings, token, &accountID, accountName, userID)
}

// SendChat renders and posts the reminder chat message if the channel is
// enabled.
func (d *Dispatcher) SendChat(ctx context.Context, accountID uuid.UUID, accountName string, userID uuid.UUID, dueAt time.Time) error {
	settings, err := d.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.Chat.Enabled {
		return nil
	}

	token := redis.Token(accountID.String(), db.ChannelChat, dueAt)
	if skip, err := d.reserve(ctx, token); err != nil {
		return err
	} else if skip {
		return nil
	}

	return d.deliverChat(ctx, db.KindReminder, settings, token, &accountID, accountName, userID)
}

// SendTest sends a test notification over one channel (or all of them),
// bypassing the enabled flags and the duplicate-send guard.
func (d *Dispatcher) SendTest(ctx context.Context, userID uuid.UUID, channel string) error {
	settings, err := d.store.GetSettings(ctx)
	if err != nil {
		return err
	}

	const testName = "Test account"

	var errs []error
	if channel == db.ChannelEmail || channel == db.ChannelAll {
		errs = append(errs, d.deliverEmail(ctx, db.KindTest, settings, "", nil, testName, userID))
	}
	if channel == db.ChannelChat || channel == db.ChannelAll {
		errs = append(errs, d.deliverChat(ctx, db.KindTest, settings, "", nil, testName, userID))
	}
	if channel == db.ChannelInApp || channel == db.ChannelAll {
		errs = append(errs, d.deliverInApp(ctx, db.KindTest, nil, testName, userID))
	}

	return errors.Join(errs...)
}

// reserve claims the send token. Returns skip=true when the send was
// already delivered or is in flight. A guard outage is logged and the send
// proceeds: duplicate protection is best-effort.
func (d *Dispatcher) reserve(ctx context.Context, token string) (bool, error) {
	if d.guard == nil {
		return false, nil
	}

	ok, err := d.guard.Reserve(ctx, token)
	if errors.Is(err, redis.ErrAlreadySent) {
		metrics.RecordDuplicateSendSkipped()
		d.logger.Info("skipping duplicate send", zap.String("token", token))
		return true, nil
	}
	if err != nil {
		d.logger.Warn("send guard unavailable, proceeding without dedup", zap.Error(err))
		return false, nil
	}
	if !ok {
		d.logger.Info("send already in flight, skipping", zap.String("token", token))
		return true, nil
	}

	return false, nil
}

func (d *Dispatcher) deliverEmail(ctx context.Context, kind string, settings *db.Settings, token string, accountID *uuid.UUID, accountName string, userID uuid.UUID) error {
	now := d.now()
	idStr := ""
	if accountID != nil {
		idStr = accountID.String()
	}

	subject := renderTemplate(settings.Email.SubjectTemplate, accountName, idStr, now)
	body := renderTemplate(settings.Email.BodyTemplate, accountName, idStr, now)

	var sendErr error
	if mailer := d.mailers[settings.Email.Provider]; mailer == nil {
		sendErr = fmt.Errorf("email provider %q not configured", settings.Email.Provider)
	} else {
		sendErr = mailer.Send(ctx, notify.EmailMessage{
			From:    d.emailFrom,
			To:      settings.Email.To,
			Subject: subject,
			Body:    body,
		})
	}

	d.settleToken(ctx, token, sendErr)

	return d.record(ctx, kind, db.ChannelEmail, accountID, accountName, userID, body, sendErr)
}

func (d *Dispatcher) deliverChat(ctx context.Context, kind string, settings *db.Settings, token string, accountID *uuid.UUID, accountName string, userID uuid.UUID) error {
	now := d.now()
	idStr := ""
	if accountID != nil {
		idStr = accountID.String()
	}

	text := renderTemplate(settings.Chat.MessageTemplate, accountName, idStr, now)

	webhook := settings.Chat.WebhookURL
	if webhook == "" {
		webhook = d.chatWebhook
	}

	var sendErr error
	if d.chat == nil {
		sendErr = errors.New("no chat transport configured")
	} else {
		sendErr = d.chat.Send(ctx, webhook, text)
	}

	d.settleToken(ctx, token, sendErr)

	return d.record(ctx, kind, db.ChannelChat, accountID, accountName, userID, text, sendErr)
}

func (d *Dispatcher) deliverInApp(ctx context.Context, kind string, accountID *uuid.UUID, accountName string, userID uuid.UUID) error {
	now := d.now()
	idStr := ""
	if accountID != nil {
		idStr = accountID.String()
	}

	message := fmt.Sprintf("Account %s is due for maintenance", accountName)

	var sendErr error
	if d.hub == nil {
		sendErr = errors.New("push hub not available")
	} else {
		delivered := d.hub.BroadcastAll(push.Event{
			Type:        kind,
			AccountID:   idStr,
			AccountName: accountName,
			Message:     message,
			At:          now,
		})
		d.logger.Debug("in-app reminder broadcast", zap.Int("clients", delivered))
	}

	return d.record(ctx, kind, db.ChannelInApp, accountID, accountName, userID, message, sendErr)
}

// settleToken marks the token delivered after a successful send, or frees
// it after a failure so a retried job can attempt again.
func (d *Dispatcher) settleToken(ctx context.Context, token string, sendErr error) {
	if d.guard == nil || token == "" {
		return
	}

	var err error
	if sendErr == nil {
		err = d.guard.MarkDelivered(ctx, token)
	} else {
		err = d.guard.Release(ctx, token)
	}
	if err != nil {
		d.logger.Warn("failed to settle send token",
			zap.String("token", token),
			zap.Error(err),
		)
	}
}

// record appends exactly one delivery record documenting the attempt.
// Transport errors end up in the record, storage errors propagate.
func (d *Dispatcher) record(ctx context.Context, kind, channel string, accountID *uuid.UUID, accountName string, userID uuid.UUID, message string, sendErr error) error {
	now := d.now()

	rec := &db.DeliveryRecord{
		ID:          uuid.New(),
		UserID:      userID,
		AccountID:   accountID,
		AccountName: accountName,
		Kind:        kind,
		Channel:     channel,
		Status:      db.StatusSuccess,
		Message:     message,
	}

	if sendErr != nil {
		rec.Status = db.StatusFailed
		rec.Message = sendErr.Error()
		d.logger.Error("notification send failed",
			zap.String("channel", channel),
			zap.String("account", accountName),
			zap.Error(sendErr),
		)
	} else {
		rec.SentAt = &now
	}

	metrics.RecordDelivery(channel, rec.Status)

	return d.store.AppendDeliveryRecord(ctx, rec)
}
