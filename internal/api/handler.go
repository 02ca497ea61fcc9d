package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ainasago/AccountMaintan-sub000/internal/db"
	"github.com/ainasago/AccountMaintan-sub000/internal/reminder"
)

// Repository defines the database operations the API needs.
type Repository interface {
	CreateAccount(ctx context.Context, acc *db.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*db.Account, error)
	ListAccounts(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]*db.Account, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, name string, reminderCycle int, isActive bool) error
	RecordVisit(ctx context.Context, id uuid.UUID) error

	ListDeliveryRecords(ctx context.Context, page, pageSize int, kind, status string) ([]*db.DeliveryRecord, error)
	CountDeliveryRecords(ctx context.Context, kind, status string) (int, error)
	DeleteDeliveryRecord(ctx context.Context, id uuid.UUID) error
	ClearDeliveryRecords(ctx context.Context) (int64, error)

	GetSettings(ctx context.Context) (*db.Settings, error)
	SaveSettings(ctx context.Context, settings *db.Settings) error
}

// SchedulerControl exposes the reminder scheduler operations.
type SchedulerControl interface {
	Start(ctx context.Context) error
	Stop()
	TriggerNow(ctx context.Context) error
	StartForUser(ctx context.Context, userID uuid.UUID) error
	StopForUser(userID uuid.UUID)
	Status(ctx context.Context) (*reminder.Status, error)
}

// TestSender sends a one-off test notification.
type TestSender interface {
	SendTest(ctx context.Context, userID uuid.UUID, channel string) error
}

// Response is the uniform API envelope.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	repo      Repository
	scheduler SchedulerControl
	tester    TestSender
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, scheduler SchedulerControl, tester TestSender) *Handler {
	return &Handler{
		logger:    logger,
		repo:      repo,
		scheduler: scheduler,
		tester:    tester,
	}
}

// StartScheduler handles POST /api/v1/reminders/start
func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Start(r.Context()); err != nil {
		h.logger.Error("failed to start reminder scheduler", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to start reminder scheduler")
		return
	}

	h.writeSuccess(w, "Reminder scheduler started", nil)
}

// StopScheduler handles POST /api/v1/reminders/stop
func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	h.writeSuccess(w, "Reminder scheduler stopped", nil)
}

// TriggerReminders handles POST /api/v1/reminders/trigger
func (h *Handler) TriggerReminders(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.TriggerNow(r.Context()); err != nil {
		h.logger.Error("failed to trigger reminder run", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to trigger reminder run")
		return
	}

	h.writeSuccess(w, "Reminder run triggered", nil)
}

// SchedulerStatus handles GET /api/v1/reminders/status
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.scheduler.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to read scheduler status", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to read scheduler status")
		return
	}

	h.writeSuccess(w, "", status)
}

// StartUserScheduler handles POST /api/v1/reminders/users/{id}/start
func (h *Handler) StartUserScheduler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}

	if err := h.scheduler.StartForUser(r.Context(), userID); err != nil {
		h.logger.Error("failed to start user trigger",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeFailure(w, http.StatusInternalServerError, "Failed to start user reminder trigger")
		return
	}

	h.writeSuccess(w, "User reminder trigger started", nil)
}

// StopUserScheduler handles POST /api/v1/reminders/users/{id}/stop
func (h *Handler) StopUserScheduler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}

	h.scheduler.StopForUser(userID)
	h.writeSuccess(w, "User reminder trigger stopped", nil)
}

// ListRecords handles GET /api/v1/records?page=1&pageSize=20&kind=&status=
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)

	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != db.KindTest && kind != db.KindReminder {
		h.writeFailure(w, http.StatusBadRequest, "kind must be test or reminder")
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && status != db.StatusSuccess && status != db.StatusFailed {
		h.writeFailure(w, http.StatusBadRequest, "status must be success or failed")
		return
	}

	records, err := h.repo.ListDeliveryRecords(r.Context(), page, pageSize, kind, status)
	if err != nil {
		h.logger.Error("failed to list delivery records", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to list delivery records")
		return
	}

	h.writeSuccess(w, "", map[string]interface{}{
		"records":  records,
		"page":     page,
		"pageSize": pageSize,
		"count":    len(records),
	})
}

// CountRecords handles GET /api/v1/records/count
func (h *Handler) CountRecords(w http.ResponseWriter, r *http.Request) {
	count, err := h.repo.CountDeliveryRecords(r.Context(), r.URL.Query().Get("kind"), r.URL.Query().Get("status"))
	if err != nil {
		h.logger.Error("failed to count delivery records", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to count delivery records")
		return
	}

	h.writeSuccess(w, "", map[string]int{"count": count})
}

// DeleteRecord handles DELETE /api/v1/records/{id}
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.DeleteDeliveryRecord(r.Context(), id); err != nil {
		h.logger.Error("failed to delete delivery record",
			zap.Error(err),
			zap.String("record_id", id.String()),
		)
		h.writeFailure(w, http.StatusInternalServerError, "Failed to delete delivery record")
		return
	}

	h.writeSuccess(w, "Delivery record deleted", nil)
}

// ClearRecords handles DELETE /api/v1/records
func (h *Handler) ClearRecords(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.repo.ClearDeliveryRecords(r.Context())
	if err != nil {
		h.logger.Error("failed to clear delivery records", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to clear delivery records")
		return
	}

	h.writeSuccess(w, "Delivery records cleared", map[string]int64{"deleted": deleted})
}

// GetSettings handles GET /api/v1/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.repo.GetSettings(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	h.writeSuccess(w, "", settings)
}

// UpdateSettings handles PUT /api/v1/settings. Saving re-applies the
// scheduler registration so interval changes take effect immediately.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings db.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if settings.Email.Enabled && settings.Email.To == "" {
		h.writeFailure(w, http.StatusBadRequest, "email.to is required when the email channel is enabled")
		return
	}

	if err := h.repo.SaveSettings(r.Context(), &settings); err != nil {
		h.logger.Error("failed to save settings", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	if settings.Reminder.EnableAutoReminder {
		if err := h.scheduler.Start(r.Context()); err != nil {
			h.logger.Error("failed to re-register scheduler after settings change", zap.Error(err))
			h.writeFailure(w, http.StatusInternalServerError, "Settings saved but scheduler re-registration failed")
			return
		}
	} else {
		h.scheduler.Stop()
	}

	h.writeSuccess(w, "Settings saved", settings)
}

// CreateAccount handles POST /api/v1/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID        string `json:"user_id"`
		Name          string `json:"name"`
		ReminderCycle *int   `json:"reminder_cycle,omitempty"`
		IsActive      *bool  `json:"is_active,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if req.UserID == "" || req.Name == "" {
		h.writeFailure(w, http.StatusBadRequest, "user_id and name are required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeFailure(w, http.StatusBadRequest, "user_id must be a valid UUID")
		return
	}

	cycle := 0
	if req.ReminderCycle != nil {
		if *req.ReminderCycle < 0 {
			h.writeFailure(w, http.StatusBadRequest, "reminder_cycle must be >= 0")
			return
		}
		cycle = *req.ReminderCycle
	} else {
		settings, err := h.repo.GetSettings(r.Context())
		if err != nil {
			h.logger.Error("failed to load settings for account default", zap.Error(err))
			h.writeFailure(w, http.StatusInternalServerError, "Failed to create account")
			return
		}
		cycle = settings.Reminder.DefaultReminderCycle
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	acc := &db.Account{
		ID:            uuid.New(),
		UserID:        userID,
		Name:          req.Name,
		IsActive:      active,
		ReminderCycle: cycle,
	}

	if err := h.repo.CreateAccount(r.Context(), acc); err != nil {
		h.logger.Error("failed to create account", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	h.writeJSON(w, http.StatusCreated, Response{Success: true, Data: acc})
}

// ListAccounts handles GET /api/v1/accounts?user_id=&limit=&offset=
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var userID *uuid.UUID
	if s := r.URL.Query().Get("user_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			h.writeFailure(w, http.StatusBadRequest, "user_id must be a valid UUID")
			return
		}
		userID = &id
	}

	limit := 20
	offset := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if o, err := strconv.Atoi(s); err == nil && o >= 0 {
			offset = o
		}
	}

	accounts, err := h.repo.ListAccounts(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list accounts", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}

	h.writeSuccess(w, "", map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount handles GET /api/v1/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}

	acc, err := h.repo.GetAccount(r.Context(), id)
	if err != nil {
		h.writeFailure(w, http.StatusNotFound, "Account not found")
		return
	}

	h.writeSuccess(w, "", acc)
}

// UpdateAccount handles PATCH /api/v1/accounts/{id}
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name          string `json:"name"`
		ReminderCycle int    `json:"reminder_cycle"`
		IsActive      bool   `json:"is_active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if req.Name == "" {
		h.writeFailure(w, http.StatusBadRequest, "name is required")
		return
	}

	if req.ReminderCycle < 0 {
		h.writeFailure(w, http.StatusBadRequest, "reminder_cycle must be >= 0")
		return
	}

	if err := h.repo.UpdateAccount(r.Context(), id, req.Name, req.ReminderCycle, req.IsActive); err != nil {
		h.logger.Error("failed to update account",
			zap.Error(err),
			zap.String("account_id", id.String()),
		)
		h.writeFailure(w, http.StatusInternalServerError, "Failed to update account")
		return
	}

	h.writeSuccess(w, "Account updated", nil)
}

// VisitAccount handles POST /api/v1/accounts/{id}/visit
func (h *Handler) VisitAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.RecordVisit(r.Context(), id); err != nil {
		h.logger.Error("failed to record visit",
			zap.Error(err),
			zap.String("account_id", id.String()),
		)
		h.writeFailure(w, http.StatusInternalServerError, "Failed to record visit")
		return
	}

	h.writeSuccess(w, "Visit recorded", nil)
}

// TestNotification handles POST /api/v1/notifications/test
func (h *Handler) TestNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		Channel string `json:"channel"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if req.UserID == "" {
		h.writeFailure(w, http.StatusBadRequest, "user_id is required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeFailure(w, http.StatusBadRequest, "user_id must be a valid UUID")
		return
	}

	channel := req.Channel
	if channel == "" {
		channel = db.ChannelAll
	}

	switch channel {
	case db.ChannelEmail, db.ChannelChat, db.ChannelInApp, db.ChannelAll:
	default:
		h.writeFailure(w, http.StatusBadRequest, "channel must be email, chat, inapp or all")
		return
	}

	if err := h.tester.SendTest(r.Context(), userID, channel); err != nil {
		h.logger.Error("test notification failed",
			zap.Error(err),
			zap.String("channel", channel),
		)
		h.writeFailure(w, http.StatusInternalServerError, "Test notification failed; see delivery records")
		return
	}

	h.writeSuccess(w, "Test notification sent", nil)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeFailure(w, http.StatusBadRequest, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20

	if s := r.URL.Query().Get("page"); s != "" {
		if p, err := strconv.Atoi(s); err == nil && p > 0 {
			page = p
		}
	}
	if s := r.URL.Query().Get("pageSize"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	return page, pageSize
}

func (h *Handler) writeSuccess(w http.ResponseWriter, message string, data interface{}) {
	h.writeJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

func (h *Handler) writeFailure(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, Response{Success: false, Message: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
