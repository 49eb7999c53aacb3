// Package notify turns calendar change notifications into sync runs.
//
// Google Calendar push channels POST to the notification endpoint with the
// channel token in X-Goog-Channel-Token; channels are registered with the
// watched calendar's id as the token, so the token is the changed-calendar
// hint for a targeted sync.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"calmirror/internal/syncer"
)

const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerChannelToken  = "X-Goog-Channel-Token"
	headerResourceState = "X-Goog-Resource-State"

	// stateSync is sent once when a channel is created; it reports no change.
	stateSync = "sync"
)

// Runner performs a sync run.
type Runner interface {
	RunSync(ctx context.Context, hint *syncer.Hint) *syncer.Result
}

// ChannelSet reports whether a push channel is one this process registered.
type ChannelSet interface {
	Active(channelID string) bool
}

// Handler serves the notification and manual-sync endpoints.
type Handler struct {
	ctx      context.Context
	runner   Runner
	channels ChannelSet
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewHandler creates a Handler. Runs started by notifications use ctx.
func NewHandler(ctx context.Context, logger *slog.Logger, runner Runner) *Handler {
	return &Handler{ctx: ctx, runner: runner, logger: logger}
}

// AcceptChannels limits notifications to the channels in set. Without it
// every notification is accepted.
func (h *Handler) AcceptChannels(set ChannelSet) {
	h.channels = set
}

// Routes registers the handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/notify", h.Notify)
	mux.HandleFunc("/sync", h.SyncNow)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Notify acknowledges a push notification immediately and runs the sync in
// the background, since the sender expects a prompt 2xx.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := r.Header.Get(headerResourceState)
	calendarID := r.Header.Get(headerChannelToken)
	if channelID := r.Header.Get(headerChannelID); h.channels != nil && !h.channels.Active(channelID) {
		// Stopped or foreign channel; acknowledge so the sender does not retry.
		h.logger.Debug("Ignoring notification from unknown channel.", "channelID", channelID, "calendarID", calendarID)
		w.WriteHeader(http.StatusOK)
		return
	}
	if state == stateSync {
		h.logger.Debug("Push channel confirmed.", "calendarID", calendarID)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.Info("Calendar change notification received.", "calendarID", calendarID, "state", state)
	var hint *syncer.Hint
	if calendarID != "" {
		hint = &syncer.Hint{CalendarID: calendarID}
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res := h.runner.RunSync(h.ctx, hint)
		h.logger.Info("Notification sync finished.", "status", res.Status, "summary", res.Summary)
	}()
	w.WriteHeader(http.StatusOK)
}

// SyncNow runs a sync synchronously and returns its Result as JSON.
// The optional "calendar" query parameter is passed as the change hint.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var hint *syncer.Hint
	if id := r.URL.Query().Get("calendar"); id != "" {
		hint = &syncer.Hint{CalendarID: id}
	}
	res := h.runner.RunSync(r.Context(), hint)

	status := http.StatusOK
	switch res.Status {
	case syncer.StatusAlreadyRunning:
		status = http.StatusConflict
	case syncer.StatusConfigError:
		status = http.StatusUnprocessableEntity
	case syncer.StatusFailed:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.logger.Error("Failed to write sync result", "error", err)
	}
}

// Wait blocks until every notification-triggered run has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}
