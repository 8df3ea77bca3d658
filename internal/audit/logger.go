package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCreate   EventType = "pairing_session_create"
	EventSessionClaim    EventType = "pairing_session_claim"
	EventClaimRejected   EventType = "pairing_claim_rejected"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
)

// Event is a pairing lifecycle record. Code must already be masked.
type Event struct {
	Type      EventType
	Code      string
	RequestID string
	IP        string
	UserAgent string
	Details   map[string]any
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "pairing").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.Code != "" {
		logger = logger.With().Str("code", event.Code).Logger()
	}
	if event.RequestID != "" {
		logger = logger.With().Str("request_id", event.RequestID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("pairing audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case time.Time:
		return e.Time(key, v)
	default:
		return e.Interface(key, v)
	}
}

// LogFromRequest fills the request-scoped fields. RemoteAddr is trusted
// as-is; chi's RealIP middleware runs earlier in the chain.
func LogFromRequest(r *http.Request, event Event) {
	event.IP = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	event.RequestID = middleware.GetReqID(r.Context())
	Log(r.Context(), event)
}
