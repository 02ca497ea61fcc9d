package db

import (
	"time"

	"github.com/google/uuid"
)

// Account is a managed credential entry owned by a user. The reminder
// pipeline only reads it and stamps last_visited; it never deletes rows.
type Account struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Name          string     `json:"name"`
	IsActive      bool       `json:"is_active"`
	ReminderCycle int        `json:"reminder_cycle"` // days, 0 disables reminders
	LastVisited   *time.Time `json:"last_visited,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ReminderDue reports whether the account is due for a reminder at now.
// A never-visited account with a positive cycle is always due; the
// boundary at exactly the cycle length is inclusive.
func (a *Account) ReminderDue(now time.Time) bool {
	if !a.IsActive || a.ReminderCycle <= 0 {
		return false
	}
	if a.LastVisited == nil {
		return true
	}
	cycle := time.Duration(a.ReminderCycle) * 24 * time.Hour
	return now.Sub(*a.LastVisited) >= cycle
}

// DueDate returns the instant the reminder became due: the last visit
// plus the cycle length. A never-visited account has been due since it
// was created. Stable across retries, unlike the wall clock.
func (a *Account) DueDate() time.Time {
	if a.LastVisited == nil {
		return a.CreatedAt
	}
	return a.LastVisited.Add(time.Duration(a.ReminderCycle) * 24 * time.Hour)
}

// DeliveryRecord is one attempted notification send. Immutable once written.
type DeliveryRecord struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	AccountID   *uuid.UUID `json:"account_id,omitempty"`
	AccountName string     `json:"account_name"`
	Kind        string     `json:"kind"`
	Channel     string     `json:"channel"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// Record kind constants
const (
	KindTest     = "test"
	KindReminder = "reminder"
)

// Channels a delivery record can be written under. Matches the CHECK
// constraint on delivery_records.channel.
const (
	ChannelEmail = "email"
	ChannelChat  = "chat"
	ChannelInApp = "inapp"
)

// ChannelAll selects every channel in API requests. It is never stored
// on a record; a request for all channels yields one record per channel.
const ChannelAll = "all"

// Delivery status constants
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// maxMessageLen bounds the free-text message/error column.
const maxMessageLen = 2000
