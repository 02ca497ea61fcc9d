package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for accounts, delivery records
// and the notification settings document.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateAccount inserts a new account
func (r *Repository) CreateAccount(ctx context.Context, acc *Account) error {
	query := `
		INSERT INTO accounts (
			id, user_id, name, is_active, reminder_cycle, last_visited
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		acc.ID,
		acc.UserID,
		acc.Name,
		acc.IsActive,
		acc.ReminderCycle,
		acc.LastVisited,
	).Scan(&acc.CreatedAt, &acc.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create account",
			zap.Error(err),
			zap.String("account_id", acc.ID.String()),
		)
		return fmt.Errorf("insert account: %w", err)
	}

	r.logger.Info("account created",
		zap.String("account_id", acc.ID.String()),
		zap.String("user_id", acc.UserID.String()),
	)

	return nil
}

// GetAccount retrieves an account by ID
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT id, user_id, name, is_active, reminder_cycle, last_visited,
			created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var acc Account
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&acc.ID,
		&acc.UserID,
		&acc.Name,
		&acc.IsActive,
		&acc.ReminderCycle,
		&acc.LastVisited,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account not found: %s", id)
	}

	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	return &acc, nil
}

// ListAccounts retrieves accounts, optionally scoped to a user, newest first
func (r *Repository) ListAccounts(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]*Account, error) {
	query := `
		SELECT id, user_id, name, is_active, reminder_cycle, last_visited,
			created_at, updated_at
		FROM accounts
		WHERE ($1::uuid IS NULL OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// UpdateAccount updates the owner-editable fields of an account
func (r *Repository) UpdateAccount(ctx context.Context, id uuid.UUID, name string, reminderCycle int, isActive bool) error {
	query := `
		UPDATE accounts
		SET name = $1, reminder_cycle = $2, is_active = $3, updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, name, reminderCycle, isActive, id)
	if err != nil {
		r.logger.Error("failed to update account",
			zap.Error(err),
			zap.String("account_id", id.String()),
		)
		return fmt.Errorf("update account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("account not found: %s", id)
	}

	return nil
}

// RecordVisit stamps last_visited with the current time
func (r *Repository) RecordVisit(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE accounts SET last_visited = NOW(), updated_at = NOW() WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("record visit: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("account not found: %s", id)
	}

	r.logger.Info("account visit recorded", zap.String("account_id", id.String()))

	return nil
}

// ListReminderCandidates loads accounts that can be due at all: active with a
// positive cycle. The due predicate itself is applied by the evaluator because
// it mixes a nullable timestamp with a per-row interval.
func (r *Repository) ListReminderCandidates(ctx context.Context, userID *uuid.UUID) ([]*Account, error) {
	query := `
		SELECT id, user_id, name, is_active, reminder_cycle, last_visited,
			created_at, updated_at
		FROM accounts
		WHERE is_active AND reminder_cycle > 0
			AND ($1::uuid IS NULL OR user_id = $1)
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query reminder candidates: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// DistinctAccountUserIDs returns the set of user ids owning at least one account
func (r *Repository) DistinctAccountUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT DISTINCT user_id FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("query distinct users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return ids, nil
}

func scanAccounts(rows pgx.Rows) ([]*Account, error) {
	var accounts []*Account
	for rows.Next() {
		var acc Account
		err := rows.Scan(
			&acc.ID,
			&acc.UserID,
			&acc.Name,
			&acc.IsActive,
			&acc.ReminderCycle,
			&acc.LastVisited,
			&acc.CreatedAt,
			&acc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return accounts, nil
}

// AppendDeliveryRecord inserts one delivery record. Records are append-only.
func (r *Repository) AppendDeliveryRecord(ctx context.Context, rec *DeliveryRecord) error {
	if len(rec.Message) > maxMessageLen {
		rec.Message = rec.Message[:maxMessageLen]
	}

	query := `
		INSERT INTO delivery_records (
			id, user_id, account_id, account_name, kind, channel, status, message, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		rec.ID,
		rec.UserID,
		rec.AccountID,
		rec.AccountName,
		rec.Kind,
		rec.Channel,
		rec.Status,
		rec.Message,
		rec.SentAt,
	).Scan(&rec.CreatedAt)

	if err != nil {
		r.logger.Error("failed to append delivery record",
			zap.Error(err),
			zap.String("record_id", rec.ID.String()),
			zap.String("channel", rec.Channel),
		)
		return fmt.Errorf("insert delivery record: %w", err)
	}

	return nil
}

// ListDeliveryRecords retrieves records with offset pagination, newest first.
// Empty kind/status filters match everything.
func (r *Repository) ListDeliveryRecords(ctx context.Context, page, pageSize int, kind, status string) ([]*DeliveryRecord, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := `
		SELECT id, user_id, account_id, account_name, kind, channel, status,
			message, created_at, sent_at
		FROM delivery_records
		WHERE ($1 = '' OR kind = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, kind, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query delivery records: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.AccountID,
			&rec.AccountName,
			&rec.Kind,
			&rec.Channel,
			&rec.Status,
			&rec.Message,
			&rec.CreatedAt,
			&rec.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// CountDeliveryRecords counts records matching the optional filters
func (r *Repository) CountDeliveryRecords(ctx context.Context, kind, status string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM delivery_records
		WHERE ($1 = '' OR kind = $1)
			AND ($2 = '' OR status = $2)
	`

	var count int
	if err := r.db.Pool().QueryRow(ctx, query, kind, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("count delivery records: %w", err)
	}

	return count, nil
}

// DeleteDeliveryRecord removes a single record by id
func (r *Repository) DeleteDeliveryRecord(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM delivery_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete delivery record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("delivery record not found: %s", id)
	}

	return nil
}

// ClearDeliveryRecords removes all records and returns the number deleted
func (r *Repository) ClearDeliveryRecords(ctx context.Context) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM delivery_records`)
	if err != nil {
		return 0, fmt.Errorf("clear delivery records: %w", err)
	}

	n := result.RowsAffected()
	r.logger.Info("delivery records cleared", zap.Int64("deleted", n))

	return n, nil
}

// GetSettings loads the notification settings document, or defaults when no
// row has been saved yet.
func (r *Repository) GetSettings(ctx context.Context) (*Settings, error) {
	var doc []byte
	err := r.db.Pool().QueryRow(ctx, `SELECT doc FROM notification_settings WHERE id = 1`).Scan(&doc)

	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(doc, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	return &settings, nil
}

// SaveSettings upserts the single settings row
func (r *Repository) SaveSettings(ctx context.Context, settings *Settings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	query := `
		INSERT INTO notification_settings (id, doc, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.Pool().Exec(ctx, query, doc, time.Now().UTC()); err != nil {
		r.logger.Error("failed to save settings", zap.Error(err))
		return fmt.Errorf("save settings: %w", err)
	}

	r.logger.Info("notification settings saved")

	return nil
}
