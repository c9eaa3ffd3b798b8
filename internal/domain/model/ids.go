package model

import "github.com/google/uuid"

// Correlation and entity id prefixes, kept readable on the wire.
const (
	InviteIDPrefix       = "invite"
	MessageIDPrefix      = "msg"
	GroupIDPrefix        = "group"
	JoinIDPrefix         = "join"
	GroupMessageIDPrefix = "gmsg"
	ListIDPrefix         = "list"
)

// NewID returns a locally unique token such as "invite_<uuid>".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
