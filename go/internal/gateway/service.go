package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/timesync/go/internal/timeserver"
	"github.com/mcdev12/timesync/go/internal/validator"
	"github.com/rs/zerolog/log"
)

// Service routes client messages to the validator and time server and
// writes the responses back to the originating session.
type Service struct {
	cm        *ConnectionManager
	validator *validator.App
	timeSrv   *timeserver.TimeServer
}

// NewService creates the WebSocket message router
func NewService(cm *ConnectionManager, validatorApp *validator.App, timeSrv *timeserver.TimeServer) *Service {
	return &Service{
		cm:        cm,
		validator: validatorApp,
		timeSrv:   timeSrv,
	}
}

// HandleMessage decodes one client message and dispatches it.
func (s *Service) HandleMessage(ctx context.Context, session *Session, message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.sendError(session, "invalid_message", "message is not valid JSON")
		return
	}

	switch msg.Type {
	case ClientMessageRegister:
		s.handleRegister(session, msg.Data)
	case ClientMessageNTPSync:
		s.handleNTPSync(ctx, session, msg.Data)
	case ClientMessageSyncAttempt:
		s.handleSyncAttempt(ctx, session, msg.Data)
	case ClientMessageTimeRequest:
		s.handleTimeRequest(session)
	default:
		s.sendError(session, "unknown_type", "unknown message type: "+msg.Type)
	}
}

// handleRegister binds a user identity to the session and acknowledges
// with the current server time.
func (s *Service) handleRegister(session *Session, data json.RawMessage) {
	var msg RegisterMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.UserID == "" {
		s.sendError(session, "invalid_register", "register requires a user_id")
		return
	}

	session.SetUserID(msg.UserID)

	s.cm.SendToSession(session, NewSyncEvent(EventTypeRegistered, RegisteredPayload{
		UserID:       msg.UserID,
		SessionID:    session.ID,
		ServerTimeMs: s.timeSrv.Now().UnixMilli(),
	}))

	log.Debug().
		Str("session_id", session.ID).
		Str("user_id", msg.UserID).
		Msg("session registered user")
}

// handleNTPSync stamps the exchange with server times. A message carrying
// client_received_ms closes the loop on a previous exchange, so the offset
// estimator runs and the telemetry row is written.
func (s *Service) handleNTPSync(ctx context.Context, session *Session, data json.RawMessage) {
	var msg NTPSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.ClientSentMs == 0 {
		s.sendError(session, "invalid_ntp_sync", "ntp_sync requires client_sent_ms")
		return
	}

	received := s.timeSrv.Now()
	payload := NTPResponsePayload{
		ClientSentMs:     msg.ClientSentMs,
		ServerReceivedMs: received.UnixMilli(),
	}

	if msg.ClientReceivedMs != 0 {
		userID := session.UserID()
		if userID == "" {
			s.sendError(session, "not_registered", "register before completing an ntp sync")
			return
		}

		// Prefer the echoed first-leg stamps over the arrival time of this
		// message, otherwise client think time between legs skews the offset.
		serverReceived := received
		if msg.ServerReceivedMs != 0 {
			serverReceived = time.UnixMilli(msg.ServerReceivedMs).UTC()
		}
		var serverSent time.Time
		if msg.ServerSentMs != 0 {
			serverSent = time.UnixMilli(msg.ServerSentMs).UTC()
		}

		logEntry, err := s.validator.RecordNTPSync(ctx, validator.NTPSyncRequest{
			UserID:         userID,
			ClientSent:     time.UnixMilli(msg.ClientSentMs).UTC(),
			ServerReceived: serverReceived,
			ServerSent:     serverSent,
			ClientReceived: time.UnixMilli(msg.ClientReceivedMs).UTC(),
		})
		if err != nil {
			s.sendValidatorError(session, err)
			return
		}

		payload.ServerReceivedMs = logEntry.ServerReceivedTime.UnixMilli()
		payload.ServerSentMs = logEntry.ServerSentTime.UnixMilli()
		payload.ClockOffsetMs = &logEntry.ClockOffsetMs
		payload.RoundTripTimeMs = &logEntry.RoundTripTimeMs
	} else {
		payload.ServerSentMs = s.timeSrv.Now().UnixMilli()
	}

	s.cm.SendToSession(session, NewSyncEvent(EventTypeNTPResponse, payload))
}

// handleSyncAttempt judges the attempt and replies with the verdict. The
// unlock celebration, when one happens, goes out via the fanout instead.
func (s *Service) handleSyncAttempt(ctx context.Context, session *Session, data json.RawMessage) {
	var msg SyncAttemptMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(session, "invalid_sync_attempt", "sync_attempt payload is malformed")
		return
	}

	userID := session.UserID()
	if userID == "" {
		s.sendError(session, "not_registered", "register before syncing")
		return
	}
	if msg.ClientTimestampMs == 0 {
		s.sendError(session, "invalid_timestamp", "sync_attempt requires client_timestamp_ms")
		return
	}

	pulseID := uuid.Nil
	if msg.PulseID != "" {
		id, err := uuid.Parse(msg.PulseID)
		if err != nil {
			s.sendError(session, "invalid_pulse_id", "pulse_id is not a valid uuid")
			return
		}
		pulseID = id
	}

	result, err := s.validator.ProcessSyncAttempt(ctx, validator.SyncAttemptRequest{
		UserID:           userID,
		PulseID:          pulseID,
		ClientTimestamp:  time.UnixMilli(msg.ClientTimestampMs).UTC(),
		NetworkLatencyMs: msg.NetworkLatencyMs,
		DeviceInfo:       msg.DeviceInfo,
		NTPData:          msg.NTPData,
	})
	if err != nil {
		s.sendValidatorError(session, err)
		return
	}

	s.cm.SendToSession(session, NewSyncEvent(EventTypeSyncResult, SyncResultPayload{
		AttemptID:            result.AttemptID.String(),
		PulseID:              result.PulseID.String(),
		Success:              result.Success,
		TimeDifferenceMs:     result.TimeDifferenceMs,
		AdjustedDifferenceMs: result.AdjustedDifferenceMs,
		AllowedWindowMs:      result.AllowedWindowMs,
		CapsuleUnlocked:      result.CapsuleUnlocked,
		Message:              result.Message,
	}))
}

// handleTimeRequest answers with the corrected server time.
func (s *Service) handleTimeRequest(session *Session) {
	s.cm.SendToSession(session, NewSyncEvent(EventTypeServerTime, ServerTimePayload{
		ServerTimeMs:  s.timeSrv.Now().UnixMilli(),
		ClockOffsetMs: s.timeSrv.OffsetMs(),
	}))
}

// sendValidatorError maps validator sentinels to client-facing codes.
func (s *Service) sendValidatorError(session *Session, err error) {
	switch {
	case errors.Is(err, validator.ErrNoPulseActive):
		s.sendError(session, "no_active_pulse", "no pulse is currently active")
	case errors.Is(err, validator.ErrPulseNotFound):
		s.sendError(session, "pulse_not_found", "pulse not found")
	case errors.Is(err, validator.ErrMissingUserID):
		s.sendError(session, "not_registered", "register before syncing")
	case errors.Is(err, validator.ErrInvalidTimestamp):
		s.sendError(session, "invalid_timestamp", "timestamps are missing or unusable")
	default:
		log.Error().Err(err).Str("session_id", session.ID).Msg("sync processing failed")
		s.sendError(session, "internal_error", "something went wrong, try again")
	}
}

func (s *Service) sendError(session *Session, code, message string) {
	s.cm.SendToSession(session, NewSyncEvent(EventTypeError, ErrorPayload{
		Code:    code,
		Message: message,
	}))
}
