package model

// ConnectedPayload is the first frame a stream consumer receives.
type ConnectedPayload struct {
	Ok           bool   `json:"ok"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}
