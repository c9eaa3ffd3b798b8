package model

import (
	"fmt"
	"strings"
)

// ------------------- TOPIC NAMESPACE -------------------
// Every client derives these names on its own; they must stay byte-identical
// across implementations.
const (
	ControlPrefix          = "control/"
	LoadConversationPrefix = "control/loadconversation/"
	ChatPrefix             = "chat/"
	PresencePrefix         = "presence/"
	PresenceWildcard       = "presence/#"
	GroupControlPrefix     = "group/control/"
	GroupChatPrefix        = "group/chat/"
	GroupListTopic         = "group/list"
)

// ControlTopic is the per-user handshake inbox.
func ControlTopic(userID string) string { return ControlPrefix + userID }

// PresenceTopic holds the retained presence record of a user.
func PresenceTopic(userID string) string { return PresencePrefix + userID }

// LoadConversationTopic holds the retained conversation snapshot of a user.
func LoadConversationTopic(userID string) string { return LoadConversationPrefix + userID }

// GroupControlTopic is the admission inbox of a user (admins receive join requests here).
func GroupControlTopic(userID string) string { return GroupControlPrefix + userID }

// GroupChatTopic is the content topic of a group.
func GroupChatTopic(groupID string) string { return GroupChatPrefix + groupID }

// ChatTopic derives the direct-chat topic of two users. The ids are sorted so
// both sides compute the same name without negotiating it.
func ChatTopic(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s%s_%s", ChatPrefix, a, b)
}

// GroupIDFromTopic extracts the group id of a group chat topic.
func GroupIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, GroupChatPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
