package db

// Settings is the process-wide notification settings document, persisted
// as a single jsonb row. Read on every scheduler (re)start and dispatch,
// written only through the explicit settings-update endpoint.
type Settings struct {
	Email    EmailSettings    `json:"email"`
	Chat     ChatSettings     `json:"chat"`
	InApp    InAppSettings    `json:"in_app"`
	Reminder ReminderSettings `json:"reminder"`
}

// Email providers
const (
	ProviderSES  = "ses"
	ProviderSMTP = "smtp"
)

// EmailSettings governs the email channel. Transport credentials (SMTP
// host, SES region) come from process configuration; this document only
// selects the provider and the message content.
type EmailSettings struct {
	Enabled         bool   `json:"enabled"`
	Provider        string `json:"provider"` // ses or smtp
	To              string `json:"to"`
	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template"`
}

type ChatSettings struct {
	Enabled         bool   `json:"enabled"`
	WebhookURL      string `json:"webhook_url"`
	MessageTemplate string `json:"message_template"`
}

type InAppSettings struct {
	Enabled bool `json:"enabled"`
}

type ReminderSettings struct {
	CheckInterval        string `json:"check_interval"` // cron expression
	DefaultReminderCycle int    `json:"default_reminder_cycle"`
	EnableAutoReminder   bool   `json:"enable_auto_reminder"`
	DailyHour            int    `json:"daily_hour"`
	DailyMinute          int    `json:"daily_minute"`
}

// DefaultSettings returns the settings used when no row has been saved yet.
func DefaultSettings() *Settings {
	return &Settings{
		Email: EmailSettings{
			Provider:        ProviderSMTP,
			SubjectTemplate: "Maintenance reminder: {AccountName}",
			BodyTemplate:    "Account {AccountName} ({AccountId}) is due for a visit as of {Now}.",
		},
		Chat: ChatSettings{
			MessageTemplate: "Reminder: account {AccountName} is due for maintenance ({Now}).",
		},
		InApp: InAppSettings{Enabled: true},
		Reminder: ReminderSettings{
			CheckInterval:        "@hourly",
			DefaultReminderCycle: 30,
			EnableAutoReminder:   true,
			DailyHour:            9,
			DailyMinute:          0,
		},
	}
}
