package marshaller

import (
	"encoding/json"

	"github.com/webitel/im-mqtt-chat/internal/domain/event"
)

// Envelope is the JSON frame every consumer surface receives.
type Envelope struct {
	Event    event.Kind `json:"event"`
	ID       string     `json:"id"`
	UserID   string     `json:"user_id"`
	SentAt   int64      `json:"sent_at"`
	Priority string     `json:"priority"`
	Payload  any        `json:"payload"`
}

// NewEnvelope maps a domain event to its wire frame.
func NewEnvelope(ev event.Eventer) Envelope {
	return Envelope{
		Event:    ev.GetKind(),
		ID:       ev.GetID(),
		UserID:   ev.GetUserID(),
		SentAt:   ev.GetOccurredAt(),
		Priority: mapPriority(ev.GetPriority()),
		Payload:  ev.GetPayload(),
	}
}

// MarshallDeliveryEvent encodes ev once and caches the bytes on the event, so
// fan-out to several sessions and the exporter share one encoding.
func MarshallDeliveryEvent(ev event.Eventer) ([]byte, error) {
	if cached := ev.GetCached(); cached != nil {
		if data, ok := cached.([]byte); ok {
			return data, nil
		}
	}

	data, err := json.Marshal(NewEnvelope(ev))
	if err != nil {
		return nil, err
	}

	// STORE: subsequent sessions reuse the frame
	ev.SetCached(data)
	return data, nil
}

func mapPriority(p event.Priority) string {
	switch p {
	case event.PriorityLow:
		return "low"
	case event.PriorityNormal:
		return "normal"
	case event.PriorityHigh:
		return "high"
	default:
		return "unspecified"
	}
}
