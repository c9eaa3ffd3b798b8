package model

import (
	"encoding/json"
	"strings"
	"time"

	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// PresenceRecord is retained on presence/<user>; the broker keeps only the latest.
type PresenceRecord struct {
	UserID    string         `json:"userId" validate:"required"`
	Status    PresenceStatus `json:"status" validate:"oneof=online offline"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewPresence(userID string, status PresenceStatus) PresenceRecord {
	return PresenceRecord{UserID: userID, Status: status, Timestamp: time.Now().UTC()}
}

// ParsePresence decodes a presence record. The topic suffix fills a missing userId.
func ParsePresence(topic string, payload []byte) (*PresenceRecord, error) {
	var p PresenceRecord
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apperr.ProtocolParse("presence record", err)
	}
	if p.UserID == "" {
		p.UserID = strings.TrimPrefix(topic, PresencePrefix)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, apperr.ProtocolParse("presence record", err)
	}
	return &p, nil
}

const TypeLoadConversation = "load_conversation"

// ConversationEntry describes one conversation the user participates in.
type ConversationEntry struct {
	UserID         string    `json:"userId"`
	Topic          string    `json:"topic"`
	ChatIndividual bool      `json:"chatIndividual"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationSnapshot is the retained state on control/loadconversation/<user>.
// Each publish replaces the previous value entirely.
type ConversationSnapshot struct {
	Type          string              `json:"type"`
	Conversations []ConversationEntry `json:"conversations"`
}

func NewConversationSnapshot(entries []ConversationEntry) ConversationSnapshot {
	if entries == nil {
		entries = []ConversationEntry{}
	}
	return ConversationSnapshot{Type: TypeLoadConversation, Conversations: entries}
}

// ParseConversationSnapshot decodes a snapshot. An empty payload is a cleared
// snapshot and yields an empty list.
func ParseConversationSnapshot(payload []byte) (*ConversationSnapshot, error) {
	if len(payload) == 0 {
		s := NewConversationSnapshot(nil)
		return &s, nil
	}
	var s ConversationSnapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, apperr.ProtocolParse("conversation snapshot", err)
	}
	if s.Conversations == nil {
		s.Conversations = []ConversationEntry{}
	}
	return &s, nil
}
