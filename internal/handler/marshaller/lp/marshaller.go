package lpmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/handler/marshaller"
)

// Response defines the top-level JSON object to support event batching.
type Response struct {
	Events []json.RawMessage `json:"events"`
}

// MarshallEvents converts a slice of domain events into a single JSON batch,
// reusing the per-event frames cached by the fan-out.
func MarshallEvents(events []event.Eventer) ([]byte, error) {
	res := Response{
		Events: make([]json.RawMessage, 0, len(events)),
	}

	for _, ev := range events {
		frame, err := marshaller.MarshallDeliveryEvent(ev)
		if err != nil {
			return nil, err
		}
		res.Events = append(res.Events, frame)
	}

	return json.Marshal(res)
}
