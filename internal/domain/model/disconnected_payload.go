package model

// DisconnectedPayload is the last frame sent before a stream is closed.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"` // "SHUTDOWN"
}
