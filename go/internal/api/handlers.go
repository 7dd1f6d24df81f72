package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/timesync/go/internal/models"
	"github.com/mcdev12/timesync/go/internal/pulse"
	"github.com/mcdev12/timesync/go/internal/timeserver"
	"github.com/mcdev12/timesync/go/internal/validator"
	"github.com/rs/zerolog/log"
)

// Handler exposes the sync workflow over plain JSON HTTP for clients that
// do not hold a WebSocket open. All timestamps on the wire are epoch
// milliseconds UTC.
type Handler struct {
	pulses    *pulse.App
	validator *validator.App
	timeSrv   *timeserver.TimeServer
}

// NewHandler creates the HTTP API handler
func NewHandler(pulses *pulse.App, validatorApp *validator.App, timeSrv *timeserver.TimeServer) *Handler {
	return &Handler{
		pulses:    pulses,
		validator: validatorApp,
		timeSrv:   timeSrv,
	}
}

// RegisterRoutes registers all API routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/time", h.GetTime)
	mux.HandleFunc("POST /api/sync", h.PostSync)
	mux.HandleFunc("POST /api/ntp/sync", h.PostNTPSync)
	mux.HandleFunc("GET /api/status", h.GetStatus)
	mux.HandleFunc("GET /api/history", h.GetHistory)
	mux.HandleFunc("GET /api/sync/best", h.GetBestSync)
	mux.HandleFunc("GET /api/pulse/active", h.GetActivePulse)
	mux.HandleFunc("GET /api/pulse/next", h.GetNextPulse)
	mux.HandleFunc("POST /api/pulse/custom", h.PostCustomPulse)
	mux.HandleFunc("POST /api/pulse/cancel", h.PostCancelPulse)
	mux.HandleFunc("POST /api/pulse/deactivate", h.PostDeactivatePulse)
	mux.HandleFunc("GET /api/stats/global", h.GetGlobalStats)
	mux.HandleFunc("GET /api/stats/pulses", h.GetPulseStats)
}

type timeResponse struct {
	ServerTimeMs  int64                `json:"server_time_ms"`
	ClockOffsetMs int64                `json:"clock_offset_ms"`
	NextPulse     *pulse.NextPulseInfo `json:"next_pulse,omitempty"`
}

// GetTime returns the corrected server time and the next expected pulse.
func (h *Handler) GetTime(w http.ResponseWriter, r *http.Request) {
	next, err := h.pulses.GetNextPulseInfo(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve next pulse for time response")
		next = nil
	}

	writeJSON(w, http.StatusOK, timeResponse{
		ServerTimeMs:  h.timeSrv.Now().UnixMilli(),
		ClockOffsetMs: h.timeSrv.OffsetMs(),
		NextPulse:     next,
	})
}

type syncRequest struct {
	UserID            string          `json:"user_id"`
	PulseID           string          `json:"pulse_id,omitempty"`
	ClientTimestampMs int64           `json:"client_timestamp_ms"`
	NetworkLatencyMs  *int64          `json:"network_latency_ms,omitempty"`
	DeviceInfo        json.RawMessage `json:"device_info,omitempty"`
	NTPData           json.RawMessage `json:"ntp_data,omitempty"`
}

// PostSync judges one sync attempt against the active pulse.
func (h *Handler) PostSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.ClientTimestampMs == 0 {
		writeError(w, http.StatusBadRequest, "client_timestamp_ms is required")
		return
	}

	pulseID := uuid.Nil
	if req.PulseID != "" {
		id, err := uuid.Parse(req.PulseID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pulse_id")
			return
		}
		pulseID = id
	}

	result, err := h.validator.ProcessSyncAttempt(r.Context(), validator.SyncAttemptRequest{
		UserID:           req.UserID,
		PulseID:          pulseID,
		ClientTimestamp:  time.UnixMilli(req.ClientTimestampMs).UTC(),
		NetworkLatencyMs: req.NetworkLatencyMs,
		DeviceInfo:       req.DeviceInfo,
		NTPData:          req.NTPData,
	})
	if err != nil {
		writeValidatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type ntpSyncRequest struct {
	UserID           string `json:"user_id"`
	ClientSentMs     int64  `json:"client_sent_ms"`
	ServerReceivedMs int64  `json:"server_received_ms,omitempty"`
	ServerSentMs     int64  `json:"server_sent_ms,omitempty"`
	ClientReceivedMs int64  `json:"client_received_ms"`
}

type ntpSyncResponse struct {
	ClockOffsetMs   int64 `json:"clock_offset_ms"`
	RoundTripTimeMs int64 `json:"round_trip_time_ms"`
	ServerTimeMs    int64 `json:"server_time_ms"`
}

// PostNTPSync runs the clock offset estimator over a completed exchange.
// Server timestamps are optional; omitted ones are stamped at receipt.
func (h *Handler) PostNTPSync(w http.ResponseWriter, r *http.Request) {
	var req ntpSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	ntpReq := validator.NTPSyncRequest{
		UserID:         req.UserID,
		ClientSent:     msToTime(req.ClientSentMs),
		ServerReceived: msToTime(req.ServerReceivedMs),
		ServerSent:     msToTime(req.ServerSentMs),
		ClientReceived: msToTime(req.ClientReceivedMs),
	}

	logEntry, err := h.validator.RecordNTPSync(r.Context(), ntpReq)
	if err != nil {
		writeValidatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ntpSyncResponse{
		ClockOffsetMs:   logEntry.ClockOffsetMs,
		RoundTripTimeMs: logEntry.RoundTripTimeMs,
		ServerTimeMs:    h.timeSrv.Now().UnixMilli(),
	})
}

// GetStatus reports a user's attempt count and unlock state.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	status, err := h.validator.GetUserSyncStatus(r.Context(), userID)
	if err != nil {
		writeValidatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// GetHistory returns a user's most recent attempts, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := queryInt(r, "limit", 50)

	attempts, err := h.validator.GetUserSyncHistory(r.Context(), userID, int32(limit))
	if err != nil {
		writeValidatorError(w, err)
		return
	}
	if attempts == nil {
		attempts = []*models.SyncAttempt{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"attempts": attempts,
	})
}

// GetBestSync returns a user's most accurate successful attempt.
func (h *Handler) GetBestSync(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	best, err := h.validator.GetUserBestSync(r.Context(), userID)
	if err != nil {
		writeValidatorError(w, err)
		return
	}
	if best == nil {
		writeError(w, http.StatusNotFound, "no successful sync yet")
		return
	}

	writeJSON(w, http.StatusOK, best)
}

// GetActivePulse returns the currently broadcasting pulse, if any.
func (h *Handler) GetActivePulse(w http.ResponseWriter, r *http.Request) {
	active, err := h.pulses.GetActivePulse(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if active == nil {
		writeError(w, http.StatusNotFound, "no active pulse")
		return
	}

	writeJSON(w, http.StatusOK, active)
}

// GetNextPulse reports when the next pulse will fire.
func (h *Handler) GetNextPulse(w http.ResponseWriter, r *http.Request) {
	info, err := h.pulses.GetNextPulseInfo(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "no pulse scheduled")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

type customPulseRequest struct {
	ScheduledTimeMs int64  `json:"scheduled_time_ms,omitempty"`
	Description     string `json:"description,omitempty"`
	WindowMs        int64  `json:"window_ms,omitempty"`
}

// PostCustomPulse schedules a one-off pulse. A zero or past scheduled time
// broadcasts immediately.
func (h *Handler) PostCustomPulse(w http.ResponseWriter, r *http.Request) {
	var req customPulseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	scheduled := h.timeSrv.Now()
	if req.ScheduledTimeMs > 0 {
		scheduled = msToTime(req.ScheduledTimeMs)
	}
	description := req.Description
	if description == "" {
		description = "Custom sync pulse"
	}

	created, err := h.pulses.ScheduleCustomPulse(r.Context(), scheduled, description, req.WindowMs)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

type pulseIDRequest struct {
	PulseID string `json:"pulse_id"`
}

// PostCancelPulse cancels a scheduled pulse before it fires.
func (h *Handler) PostCancelPulse(w http.ResponseWriter, r *http.Request) {
	id, ok := decodePulseID(w, r)
	if !ok {
		return
	}

	if err := h.pulses.CancelScheduledPulse(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// PostDeactivatePulse expires a pulse ahead of its timer.
func (h *Handler) PostDeactivatePulse(w http.ResponseWriter, r *http.Request) {
	id, ok := decodePulseID(w, r)
	if !ok {
		return
	}

	if err := h.pulses.DeactivatePulse(r.Context(), id); err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// GetGlobalStats aggregates attempts and unlocks across all users.
func (h *Handler) GetGlobalStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)

	stats, err := h.validator.GetGlobalSyncStats(r.Context(), days)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetPulseStats aggregates pulse outcomes over a trailing window of days.
func (h *Handler) GetPulseStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)

	stats, err := h.pulses.GetPulseStatistics(r.Context(), days)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func decodePulseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req pulseIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(req.PulseID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pulse_id")
		return uuid.Nil, false
	}
	return id, true
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func writeValidatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, validator.ErrNoPulseActive):
		writeError(w, http.StatusNotFound, "no pulse is currently active")
	case errors.Is(err, validator.ErrPulseNotFound):
		writeError(w, http.StatusNotFound, "pulse not found")
	case errors.Is(err, validator.ErrMissingUserID):
		writeError(w, http.StatusBadRequest, "user_id is required")
	case errors.Is(err, validator.ErrInvalidTimestamp):
		writeError(w, http.StatusBadRequest, "timestamps are missing or unusable")
	default:
		writeInternalError(w, err)
	}
}

func writeInternalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
