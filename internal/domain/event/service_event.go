package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// [GUARD] Ensure compliance with the Eventer interface.
var (
	_ Eventer    = (*ServiceEvent)(nil)
	_ Exportable = (*ServiceEvent)(nil)
)

// ServiceEvent is the immutable envelope a service enqueues for its consumer.
type ServiceEvent struct {
	id         string
	userID     string
	kind       Kind
	priority   Priority
	occurredAt int64
	payload    any

	// transport-specific serialization, filled lazily by the fan-out
	cacheMu sync.RWMutex
	cached  any
}

func (e *ServiceEvent) GetID() string         { return e.id }
func (e *ServiceEvent) GetKind() Kind         { return e.kind }
func (e *ServiceEvent) GetUserID() string     { return e.userID }
func (e *ServiceEvent) GetPriority() Priority { return e.priority }
func (e *ServiceEvent) GetOccurredAt() int64  { return e.occurredAt }
func (e *ServiceEvent) GetPayload() any       { return e.payload }

func (e *ServiceEvent) GetCached() any {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	return e.cached
}

func (e *ServiceEvent) SetCached(v any) {
	e.cacheMu.Lock()
	e.cached = v
	e.cacheMu.Unlock()
}

// GetRoutingKey places the event on the export exchange.
// [PATTERN] im_chat.v1.{user_id}.{kind}
func (e *ServiceEvent) GetRoutingKey() string {
	switch e.kind {
	case Connected, Disconnected:
		return ""
	}
	return fmt.Sprintf("im_chat.v1.%s.%s", e.userID, e.kind)
}

// New stamps an event for userID with the priority of its kind.
func New(userID string, kind Kind, payload any) *ServiceEvent {
	return &ServiceEvent{
		id:         uuid.NewString(),
		userID:     userID,
		kind:       kind,
		priority:   PriorityOf(kind),
		occurredAt: time.Now().UnixMilli(),
		payload:    payload,
	}
}
