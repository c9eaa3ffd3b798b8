package amqp

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// CommandFunc executes one decoded command against the chat services.
type CommandFunc[T any] func(ctx context.Context, cmd *T) error

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to the services, handling panic recovery, decoding and
// the ack/nack decision.
func Bind[T any](h *CommandHandler, name string, fn CommandFunc[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		// [PANIC_RECOVERY]
		// Safely handle runtime panics to keep the consumer alive.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"command", name,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				err = nil
			}
		}()

		// [DECODING]
		cmd := new(T)
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, cmd); err != nil {
				h.logger.Error("DECODE_FAILED", "command", name, "err", err, "msg_id", msg.UUID)
				return nil // ACK: Poison Pill protection.
			}
		}

		// [EXECUTION]
		if err := fn(msg.Context(), cmd); err != nil {
			if terminal(err) {
				h.logger.Warn("COMMAND_REJECTED", "command", name, "code", apperr.CodeOf(err), "err", err, "msg_id", msg.UUID)
				return nil // ACK: retrying cannot fix the arguments
			}
			return err // NACK: Retry policy, then the poison queue.
		}
		return nil
	}
}

func terminal(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidArgument, apperr.CodePermission:
		return true
	}
	return false
}
