package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCodeGenerate     EventType = "code_generate"
	EventLinkEstablished  EventType = "link_established"
	EventLinkTornDown     EventType = "link_torn_down"
	EventLinkIDMismatch   EventType = "link_id_mismatch"
	EventPubKeyMismatch   EventType = "pub_key_mismatch"
	EventEndpointRegister EventType = "endpoint_register"
)

type Event struct {
	Type    EventType
	LinkID  string
	Details map[string]interface{}
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "linking").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.LinkID != "" {
		logger = logger.With().Str("link_id", event.LinkID).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("linking audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
