package reminder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ainasago/AccountMaintan-sub000/internal/db"
	"github.com/ainasago/AccountMaintan-sub000/internal/notify"
	"github.com/ainasago/AccountMaintan-sub000/internal/push"
	"github.com/ainasago/AccountMaintan-sub000/internal/redis"
)

type fakeStore struct {
	settings *db.Settings
	records  []*db.DeliveryRecord
}

func (f *fakeStore) AppendDeliveryRecord(ctx context.Context, rec *db.DeliveryRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) GetSettings(ctx context.Context) (*db.Settings, error) {
	return f.settings, nil
}

func (f *fakeStore) byChannel(channel string) []*db.DeliveryRecord {
	var out []*db.DeliveryRecord
	for _, rec := range f.records {
		if rec.Channel == channel {
			out = append(out, rec)
		}
	}
	return out
}

// syncQueue executes enqueued jobs inline so tests see their effects
// immediately.
type syncQueue struct {
	names []string
}

func (q *syncQueue) Enqueue(name string, fn func(ctx context.Context) error) error {
	q.names = append(q.names, name)
	return fn(context.Background())
}

type fakeMailer struct {
	sent []notify.EmailMessage
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg notify.EmailMessage) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type fakeChat struct {
	urls  []string
	texts []string
	err   error
}

func (c *fakeChat) Send(ctx context.Context, webhookURL, text string) error {
	c.urls = append(c.urls, webhookURL)
	c.texts = append(c.texts, text)
	return c.err
}

type fakeHub struct {
	events []push.Event
}

func (h *fakeHub) BroadcastAll(event push.Event) int {
	h.events = append(h.events, event)
	return 1
}

type fakeGuard struct {
	reserveOK  bool
	reserveErr error
	reserved   []string
	delivered  []string
	released   []string
}

func (g *fakeGuard) Reserve(ctx context.Context, token string) (bool, error) {
	g.reserved = append(g.reserved, token)
	return g.reserveOK, g.reserveErr
}

func (g *fakeGuard) MarkDelivered(ctx context.Context, token string) error {
	g.delivered = append(g.delivered, token)
	return nil
}

func (g *fakeGuard) Release(ctx context.Context, token string) error {
	g.released = append(g.released, token)
	return nil
}

var testDueAt = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func allEnabledSettings() *db.Settings {
	settings := db.DefaultSettings()
	settings.Email.Enabled = true
	settings.Email.Provider = db.ProviderSMTP
	settings.Email.To = "ops@example.com"
	settings.Chat.Enabled = true
	settings.Chat.WebhookURL = "https://chat.example.com/hook"
	settings.InApp.Enabled = true
	return settings
}

func newTestDispatcher(store *fakeStore, queue *syncQueue, mailer *fakeMailer, chat *fakeChat, hub *fakeHub, guard SendGuard) *Dispatcher {
	d := NewDispatcher(
		store,
		queue,
		map[string]notify.Mailer{db.ProviderSMTP: mailer},
		chat,
		hub,
		guard,
		DispatcherConfig{EmailFrom: "noreply@example.com"},
		zap.NewNop(),
	)
	d.now = func() time.Time {
		return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	}
	return d
}

func TestDispatchAllChannelsEnabled(t *testing.T) {
	store := &fakeStore{settings: allEnabledSettings()}
	queue := &syncQueue{}
	mailer := &fakeMailer{}
	chat := &fakeChat{}
	hub := &fakeHub{}

	d := newTestDispatcher(store, queue, mailer, chat, hub, nil)

	accountID := uuid.New()
	userID := uuid.New()
	if err := d.Dispatch(context.Background(), accountID, "prod-db", userID, testDueAt); err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}

	if len(store.records) != 3 {
		t.Fatalf("expected 3 delivery records, got %d", len(store.records))
	}

	for _, rec := range store.records {
		if rec.Status != db.StatusSuccess {
			t.Errorf("channel %s: expected success, got %s (%s)", rec.Channel, rec.Status, rec.Message)
		}
		if rec.Kind != db.KindReminder {
			t.Errorf("channel %s: expected kind reminder, got %s", rec.Channel, rec.Kind)
		}
		if rec.AccountID == nil || *rec.AccountID != accountID {
			t.Errorf("channel %s: account id not carried", rec.Channel)
		}
		if rec.SentAt == nil {
			t.Errorf("channel %s: sent_at not stamped on success", rec.Channel)
		}
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 email sent, got %d", len(mailer.sent))
	}
	if mailer.sent[0].To != "ops@example.com" {
		t.Errorf("email recipient = %q", mailer.sent[0].To)
	}
	if !strings.Contains(mailer.sent[0].Subject, "prod-db") {
		t.Errorf("subject template not rendered: %q", mailer.sent[0].Subject)
	}

	if len(chat.texts) != 1 || !strings.Contains(chat.texts[0], "prod-db") {
		t.Errorf("chat message not rendered: %v", chat.texts)
	}

	if len(hub.events) != 1 {
		t.Errorf("expected 1 push event, got %d", len(hub.events))
	}
}

func TestDispatchDisabledChannelsSkipped(t *testing.T) {
	settings := allEnabledSettings()
	settings.Chat.Enabled = false
	settings.InApp.Enabled = false

	store := &fakeStore{settings: settings}
	queue := &syncQueue{}
	mailer := &fakeMailer{}
	chat := &fakeChat{}
	hub := &fakeHub{}

	d := newTestDispatcher(store, queue, mailer, chat, hub, nil)

	if err := d.Dispatch(context.Background(), uuid.New(), "prod-db", uuid.New(), testDueAt); err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected exactly 1 record for the enabled channel, got %d", len(store.records))
	}
	if store.records[0].Channel != db.ChannelEmail {
		t.Errorf("expected email record, got %s", store.records[0].Channel)
	}
	if len(chat.texts) != 0 {
		t.Errorf("chat send attempted on disabled channel")
	}
	if len(hub.events) != 0 {
		t.Errorf("in-app broadcast attempted on disabled channel")
	}
}

func TestDispatchTransportFailureRecordedNotThrown(t *testing.T) {
	store := &fakeStore{settings: allEnabledSettings()}
	queue := &syncQueue{}
	mailer := &fakeMailer{err: errors.New("smtp: connection timed out")}
	chat := &fakeChat{}
	hub := &fakeHub{}

	d := newTestDispatcher(store, queue, mailer, chat, hub, nil)

	// Transport failures surface as failed records; Dispatch itself only
	// reports enqueue problems.
	if err := d.Dispatch(context.Background(), uuid.New(), "prod-db", uuid.New(), testDueAt); err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}

	emailRecs := store.byChannel(db.ChannelEmail)
	if len(emailRecs) != 1 {
		t.Fatalf("expected 1 email record, got %d", len(emailRecs))
	}
	if emailRecs[0].Status != db.StatusFailed {
		t.Errorf("expected failed status, got %s", emailRecs[0].Status)
	}
	if !strings.Contains(emailRecs[0].Message, "timed out") {
		t.Errorf("record message should carry the transport error, got %q", emailRecs[0].Message)
	}
	if emailRecs[0].SentAt != nil {
		t.Errorf("sent_at must stay nil on failure")
	}

	// The other channels are independent and still succeed.
	for _, channel := range []string{db.ChannelChat, db.ChannelInApp} {
		recs := store.byChannel(channel)
		if len(recs) != 1 || recs[0].Status != db.StatusSuccess {
			t.Errorf("channel %s should succeed independently", channel)
		}
	}
}

func TestDispatchUnconfiguredProviderFails(t *testing.T) {
	settings := allEnabledSettings()
	settings.Email.Provider = db.ProviderSES // not registered in the test mailer map
	settings.Chat.Enabled = false
	settings.InApp.Enabled = false

	store := &fakeStore{settings: settings}
	d := newTestDispatcher(store, &syncQueue{}, &fakeMailer{}, &fakeChat{}, &fakeHub{}, nil)

	if err := d.Dispatch(context.Background(), uuid.New(), "prod-db", uuid.New(), testDueAt); err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}

	recs := store.byChannel(db.ChannelEmail)
	if len(recs) != 1 || recs[0].Status != db.StatusFailed {
		t.Fatalf("expected failed email record for missing provider, got %+v", recs)
	}
}

func TestDuplicateSendSkipped(t *testing.T) {
	settings := allEnabledSettings()
	settings.Chat.Enabled = false
	settings.InApp.Enabled = false

	store := &fakeStore{settings: settings}
	mailer := &fakeMailer{}
	guard := &fakeGuard{reserveErr: redis.ErrAlreadySent}

	d := newTestDispatcher(store, &syncQueue{}, mailer, &fakeChat{}, &fakeHub{}, guard)

	if err := d.SendEmail(context.Background(), uuid.New(), "prod-db", uuid.New(), testDueAt); err != nil {
		t.Fatalf("SendEmail() unexpected error: %v", err)
	}

	if len(mailer.sent) != 0 {
		t.Errorf("duplicate send should be skipped, but email was sent")
	}
	if len(store.records) != 0 {
		t.Errorf("skipped duplicate should not append a record, got %d", len(store.records))
	}
}

func TestGuardOutageDoesNotBlockSend(t *testing.T) {
	settings := allEnabledSettings()
	settings.Chat.Enabled = false
	settings.InApp.Enabled = false

	store := &fakeStore{settings: settings}
	mailer := &fakeMailer{}
	guard := &fakeGuard{reserveErr: errors.New("redis: connection refused")}

	d := newTestDispatcher(store, &syncQueue{}, mailer, &fakeChat{}, &fakeHub{}, guard)

	if err := d.SendEmail(context.Background(), uuid.New(), "prod-db", uuid.New(), testDueAt); err != nil {
		t.Fatalf("SendEmail() unexpected error: %v", err)
	}

	if len(mailer.sent) != 1 {
		t.Errorf("guard outage must not block the send")
	}
}

func TestSuccessfulSendMarksTokenDelivered(t *testing.T) {
	settings := allEnabledSettings()
	settings.Chat.Enabled = false
	settings.InApp.Enabled = false

	store := &fakeStore{settings: settings}
	guard := &fakeGuard{reserveOK: true}

	d := newTestDispatcher(store, &syncQueue{}, &fakeMailer{}, &fakeChat{}, &fakeHub{}, guard)

	if err := d.SendEmail(context.Background(), uuid.New(), "prod-db", uuid.New(), testDueAt); err != nil {
		t.Fatalf("SendEmail() unexpected error: %v", err)
	}

	if len(guard.delivered) != 1 {
		t.Errorf("expected token marked delivered, got %v", guard.delivered)
	}
	if len(guard.released) != 0 {
		t.Errorf("token must not be released after a successful send")
	}
}

func TestFailedSendReleasesToken(t *testing.T) {
	settings := allEnabledSettings()
	settings.Chat.Enabled = false
	settings.InApp.Enabled = false

	store := &fakeStore{settings: settings}
	guard := &fakeGuard{reserveOK: true}
	mailer := &fakeMailer{err: errors.New("boom")}

	d := newTestDispatcher(store, &syncQueue{}, mailer, &fakeChat{}, &fakeHub{}, guard)

	if err := d.SendEmail(context.Background(), uuid.New(), "prod-db", uuid.New(), testDueAt); err != nil {
		t.Fatalf("SendEmail() unexpected error: %v", err)
	}

	if len(guard.released) != 1 {
		t.Errorf("expected token released after failed send, got %v", guard.released)
	}
	if len(guard.delivered) != 0 {
		t.Errorf("failed send must not mark the token delivered")
	}
}

func TestDedupTokenStableAcrossRetries(t *testing.T) {
	settings := allEnabledSettings()
	settings.Chat.Enabled = false
	settings.InApp.Enabled = false

	store := &fakeStore{settings: settings}
	guard := &fakeGuard{reserveOK: true}

	d := newTestDispatcher(store, &syncQueue{}, &fakeMailer{}, &fakeChat{}, &fakeHub{}, guard)

	accountID := uuid.New()
	userID := uuid.New()

	// First attempt just before midnight, retry just after. The token is
	// keyed by the account's due date, not the wall clock, so both
	// attempts contend for the same token.
	d.now = func() time.Time { return time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC) }
	if err := d.SendEmail(context.Background(), accountID, "prod-db", userID, testDueAt); err != nil {
		t.Fatalf("SendEmail() error: %v", err)
	}

	d.now = func() time.Time { return time.Date(2026, 3, 16, 0, 1, 0, 0, time.UTC) }
	if err := d.SendEmail(context.Background(), accountID, "prod-db", userID, testDueAt); err != nil {
		t.Fatalf("SendEmail() retry error: %v", err)
	}

	if len(guard.reserved) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(guard.reserved))
	}
	if guard.reserved[0] != guard.reserved[1] {
		t.Errorf("token changed across midnight: %q vs %q", guard.reserved[0], guard.reserved[1])
	}
}

func TestSendTestBypassesEnabledFlags(t *testing.T) {
	settings := db.DefaultSettings()
	settings.Email.Enabled = false
	settings.Chat.Enabled = false
	settings.InApp.Enabled = false
	settings.Email.Provider = db.ProviderSMTP
	settings.Email.To = "ops@example.com"
	settings.Chat.WebhookURL = "https://chat.example.com/hook"

	store := &fakeStore{settings: settings}
	mailer := &fakeMailer{}
	chat := &fakeChat{}
	hub := &fakeHub{}

	d := newTestDispatcher(store, &syncQueue{}, mailer, chat, hub, nil)

	if err := d.SendTest(context.Background(), uuid.New(), db.ChannelAll); err != nil {
		t.Fatalf("SendTest() unexpected error: %v", err)
	}

	if len(store.records) != 3 {
		t.Fatalf("expected 3 test records, got %d", len(store.records))
	}
	for _, rec := range store.records {
		if rec.Kind != db.KindTest {
			t.Errorf("expected kind test, got %s", rec.Kind)
		}
		if rec.AccountID != nil {
			t.Errorf("test records carry no account id")
		}
		// A request for all channels fans out into per-channel records;
		// "all" itself is never a stored channel value.
		switch rec.Channel {
		case db.ChannelEmail, db.ChannelChat, db.ChannelInApp:
		default:
			t.Errorf("record channel %q outside the stored channel domain", rec.Channel)
		}
	}
	if len(mailer.sent) != 1 || len(chat.texts) != 1 || len(hub.events) != 1 {
		t.Errorf("test send must exercise every channel")
	}
}

func TestChatFallsBackToConfiguredWebhook(t *testing.T) {
	settings := allEnabledSettings()
	settings.Email.Enabled = false
	settings.InApp.Enabled = false
	settings.Chat.WebhookURL = ""

	store := &fakeStore{settings: settings}
	chat := &fakeChat{}

	d := NewDispatcher(
		store,
		&syncQueue{},
		nil,
		chat,
		&fakeHub{},
		nil,
		DispatcherConfig{ChatWebhook: "https://fallback.example.com/hook"},
		zap.NewNop(),
	)

	if err := d.SendChat(context.Background(), uuid.New(), "prod-db", uuid.New(), testDueAt); err != nil {
		t.Fatalf("SendChat() unexpected error: %v", err)
	}

	if len(chat.urls) != 1 || chat.urls[0] != "https://fallback.example.com/hook" {
		t.Errorf("expected fallback webhook, got %v", chat.urls)
	}
}
