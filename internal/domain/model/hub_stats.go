package model

import "time"

// HubStats is a point-in-time view of the local fan-out hub.
type HubStats struct {
	UserID       string        `json:"user_id"`
	Sessions     int           `json:"sessions"`
	Delivered    uint64        `json:"delivered"`
	Dropped      uint64        `json:"dropped"`
	Uptime       time.Duration `json:"uptime"`
	BrokerOnline bool          `json:"broker_online"`
}
