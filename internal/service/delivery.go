package service

import (
	"context"

	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR STREAM HANDLERS (Websocket/Long-poll)
type Deliverer interface {
	Subscribe(ctx context.Context, userID string, md registry.ConnectMetadata) (registry.Connector, error)
	Unsubscribe(userID, connID string)
	Requeue(userID string, events []event.Eventer)
}

type DeliveryService struct {
	hub        registry.Hubber
	bufferSize int
}

func NewDeliveryService(hub registry.Hubber, bufferSize int) *DeliveryService {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &DeliveryService{hub: hub, bufferSize: bufferSize}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(ctx context.Context, userID string, md registry.ConnectMetadata) (registry.Connector, error) {
	if err := required("user id", userID); err != nil {
		return nil, err
	}

	// 1. The connector dies with ctx, so a dropped HTTP request cleans itself up
	conn := registry.NewConnector(ctx, userID, s.bufferSize, md)

	// 2. Attach to the user cell; any backlog is flushed into the connector
	s.hub.Register(conn)

	return conn, nil
}

// [UNSUBSCRIBE] DETACHES AND CLOSES THE SESSION
func (s *DeliveryService) Unsubscribe(userID, connID string) {
	s.hub.Unregister(userID, connID)
}

// [REQUEUE] RETURNS EVENTS A SESSION TOOK BUT COULD NOT HAND OVER
func (s *DeliveryService) Requeue(userID string, events []event.Eventer) {
	s.hub.Requeue(userID, events)
}
