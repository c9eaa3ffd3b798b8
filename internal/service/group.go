package service

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/model"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// [GROUP_SERVICE] CREATION, ADMISSION, CONTENT AND DISCOVERY OF GROUPS
type Grouper interface {
	EventSource
	Initialize()

	CreateGroup(name string) (string, error)
	RequestJoinGroup(groupID, adminID string) (string, error)
	ApproveJoinRequest(groupID, userID, requestID string) error
	RejectJoinRequest(groupID, userID, requestID string) error
	SendGroupMessage(groupID, content string) (string, error)
	LeaveGroup(groupID string) error
	RequestGroupList() string

	AdminGroups() []model.GroupInfo
	MemberGroups() []string
	KnownGroups() []model.GroupInfo
}

var _ Grouper = (*GroupService)(nil)

// GroupService keeps the groups a user administers apart from the ones it merely joined.
//
// Admin rights are advisory: they are a client-side lookup in adminGroups and
// nothing on the broker stops another client from forging an approval.
type GroupService struct {
	outbox
	transport Transport
	seen      *dedup

	mu           sync.Mutex
	adminGroups  map[string]*model.GroupInfo
	memberGroups map[string]struct{}
	knownGroups  map[string]model.GroupInfo

	initOnce sync.Once
}

func NewGroupService(t Transport, logger *slog.Logger, opts ...Option) *GroupService {
	o := buildOptions(opts)
	userID := t.ClientID()
	return &GroupService{
		outbox:       newOutbox(userID, logger.With("service", "group", "user_id", userID)),
		transport:    t,
		seen:         newDedup(o.dedupSize),
		adminGroups:  make(map[string]*model.GroupInfo),
		memberGroups: make(map[string]struct{}),
		knownGroups:  make(map[string]model.GroupInfo),
	}
}

// Initialize chains after every handler installed so far and subscribes the
// admission inbox and the directory.
func (s *GroupService) Initialize() {
	s.initOnce.Do(func() {
		s.transport.Chain(s.route)
		s.transport.Subscribe(model.GroupControlTopic(s.userID), nil, mqtt.AtLeastOnce)
		s.transport.Subscribe(model.GroupListTopic, nil, mqtt.AtLeastOnce)
		s.logger.Info("GROUP_SERVICE_READY")
	})
}

// ------------------- ADMIN -------------------

// CreateGroup makes the current user admin of a new group, announces it on
// the retained directory and joins its chat topic.
func (s *GroupService) CreateGroup(name string) (string, error) {
	if err := required("group name", name); err != nil {
		return "", err
	}

	groupID := model.NewID(model.GroupIDPrefix)
	groupTopic := model.GroupChatTopic(groupID)
	info := model.GroupInfo{GroupID: groupID, GroupName: name, AdminID: s.userID, MemberCount: 1}

	s.mu.Lock()
	s.adminGroups[groupID] = &info
	s.knownGroups[groupID] = info
	s.mu.Unlock()

	s.transport.Publish(model.GroupListTopic, model.GroupCreate{
		Type:        model.TypeGroupCreate,
		GroupID:     groupID,
		GroupName:   name,
		AdminID:     s.userID,
		MemberCount: 1,
		Timestamp:   now(),
	}, mqtt.AtLeastOnce, true)

	s.join(groupID, groupTopic)
	s.push(event.GroupCreated, event.GroupCreatedPayload{
		GroupID:    groupID,
		GroupName:  name,
		GroupTopic: groupTopic,
		Timestamp:  now(),
	})

	s.logger.Info("GROUP_CREATED", "group_id", groupID, "group_name", name)
	return groupID, nil
}

// ApproveJoinRequest sends the chat topic to the requester and counts the new member.
func (s *GroupService) ApproveJoinRequest(groupID, userID, requestID string) error {
	if err := required("user id", userID); err != nil {
		return err
	}

	s.mu.Lock()
	info, ok := s.adminGroups[groupID]
	var name string
	if ok {
		info.MemberCount++
		name = info.GroupName
	}
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("JOIN_APPROVAL_DENIED", "group_id", groupID, "user", userID)
		return fmt.Errorf("approve %s: %w", groupID, apperr.ErrNotGroupAdmin)
	}

	s.transport.Publish(model.GroupControlTopic(userID), model.GroupJoinApproval{
		Type:       model.TypeGroupJoinApproval,
		GroupID:    groupID,
		GroupName:  name,
		GroupTopic: model.GroupChatTopic(groupID),
		UserID:     userID,
		RequestID:  requestID,
		ApprovedBy: s.userID,
		Timestamp:  now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Info("JOIN_APPROVED", "group_id", groupID, "user", userID, "request_id", requestID)
	return nil
}

func (s *GroupService) RejectJoinRequest(groupID, userID, requestID string) error {
	if err := required("user id", userID); err != nil {
		return err
	}
	if !s.isAdmin(groupID) {
		s.logger.Warn("JOIN_REJECTION_DENIED", "group_id", groupID, "user", userID)
		return fmt.Errorf("reject %s: %w", groupID, apperr.ErrNotGroupAdmin)
	}

	s.transport.Publish(model.GroupControlTopic(userID), model.GroupJoinRejection{
		Type:       model.TypeGroupJoinRejection,
		GroupID:    groupID,
		UserID:     userID,
		RequestID:  requestID,
		RejectedBy: s.userID,
		Timestamp:  now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Info("JOIN_REJECTED", "group_id", groupID, "user", userID, "request_id", requestID)
	return nil
}

// ------------------- MEMBER -------------------

// RequestJoinGroup asks the admin for admission. The admin must be online:
// the request is not retained and never retried.
func (s *GroupService) RequestJoinGroup(groupID, adminID string) (string, error) {
	if err := required("group id", groupID); err != nil {
		return "", err
	}
	if err := required("admin id", adminID); err != nil {
		return "", err
	}

	requestID := model.NewID(model.JoinIDPrefix)
	s.transport.Publish(model.GroupControlTopic(adminID), model.GroupJoinRequest{
		Type:      model.TypeGroupJoinRequest,
		GroupID:   groupID,
		UserID:    s.userID,
		RequestID: requestID,
		Timestamp: now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Info("JOIN_REQUESTED", "group_id", groupID, "admin", adminID, "request_id", requestID)
	return requestID, nil
}

func (s *GroupService) SendGroupMessage(groupID, content string) (string, error) {
	if err := required("group id", groupID); err != nil {
		return "", err
	}

	messageID := model.NewID(model.GroupMessageIDPrefix)
	s.transport.Publish(model.GroupChatTopic(groupID), model.GroupMessage{
		Type:      model.TypeGroupMessage,
		From:      s.userID,
		GroupID:   groupID,
		Content:   content,
		MessageID: messageID,
		Timestamp: now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Debug("GROUP_MESSAGE_SENT", "group_id", groupID, "message_id", messageID)
	return messageID, nil
}

// LeaveGroup announces the departure on the group topic, then unsubscribes.
func (s *GroupService) LeaveGroup(groupID string) error {
	if err := required("group id", groupID); err != nil {
		return err
	}

	groupTopic := model.GroupChatTopic(groupID)
	s.transport.Publish(groupTopic, model.GroupMemberLeft{
		Type:      model.TypeGroupMemberLeft,
		GroupID:   groupID,
		UserID:    s.userID,
		Timestamp: now(),
	}, mqtt.AtLeastOnce, false)
	s.transport.Unsubscribe(groupTopic)

	s.mu.Lock()
	delete(s.memberGroups, groupID)
	s.mu.Unlock()

	s.logger.Info("GROUP_LEFT", "group_id", groupID)
	return nil
}

// RequestGroupList asks every online admin to describe its groups. Answers
// arrive as group_list_received events.
func (s *GroupService) RequestGroupList() string {
	requestID := model.NewID(model.ListIDPrefix)
	s.transport.Publish(model.GroupListTopic, model.GroupListRequest{
		Type:        model.TypeGroupListRequest,
		RequestID:   requestID,
		RequestedBy: s.userID,
		Timestamp:   now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Debug("GROUP_LIST_REQUESTED", "request_id", requestID)
	return requestID
}

// ------------------- STATE -------------------

func (s *GroupService) AdminGroups() []model.GroupInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.GroupInfo, 0, len(s.adminGroups))
	for _, g := range s.adminGroups {
		out = append(out, *g)
	}
	return sortGroups(out)
}

func (s *GroupService) MemberGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.memberGroups))
	for id := range s.memberGroups {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// KnownGroups is the directory learned from announcements and list answers.
func (s *GroupService) KnownGroups() []model.GroupInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.GroupInfo, 0, len(s.knownGroups))
	for _, g := range s.knownGroups {
		out = append(out, g)
	}
	return sortGroups(out)
}

func sortGroups(gs []model.GroupInfo) []model.GroupInfo {
	slices.SortFunc(gs, func(a, b model.GroupInfo) int { return cmp.Compare(a.GroupID, b.GroupID) })
	return gs
}

func (s *GroupService) isAdmin(groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.adminGroups[groupID]
	return ok
}

func (s *GroupService) join(groupID, groupTopic string) {
	s.transport.Subscribe(groupTopic, nil, mqtt.AtLeastOnce)
	s.mu.Lock()
	s.memberGroups[groupID] = struct{}{}
	s.mu.Unlock()
}

// ------------------- INBOUND -------------------

// route is the chained global handler: admission inbox, group content, directory.
func (s *GroupService) route(topic string, payload []byte) {
	if topic == model.GroupControlTopic(s.userID) {
		s.handleControl(topic, payload)
		return
	}
	if groupID, ok := model.GroupIDFromTopic(topic); ok {
		s.handleChat(topic, groupID, payload)
		return
	}
	if topic == model.GroupListTopic {
		s.handleList(topic, payload)
	}
}

func (s *GroupService) handleControl(topic string, payload []byte) {
	msg, err := model.ParseGroupControl(payload)
	if err != nil {
		s.fail(topic, payload, err)
		return
	}

	switch m := msg.(type) {
	case *model.GroupJoinRequest:
		s.push(event.GroupJoinRequestReceived, event.JoinRequestPayload{
			GroupID:   m.GroupID,
			UserID:    m.UserID,
			RequestID: m.RequestID,
			Timestamp: m.Timestamp,
		})
		s.logger.Info("JOIN_REQUEST_RECEIVED", "group_id", m.GroupID, "from", m.UserID, "request_id", m.RequestID)

	case *model.GroupJoinApproval:
		groupTopic := m.GroupTopic
		if groupTopic == "" {
			groupTopic = model.GroupChatTopic(m.GroupID)
		}
		s.join(m.GroupID, groupTopic)
		s.push(event.GroupJoinApproved, event.JoinApprovedPayload{
			GroupID:    m.GroupID,
			GroupName:  m.GroupName,
			GroupTopic: groupTopic,
			RequestID:  m.RequestID,
			ApprovedBy: m.ApprovedBy,
			Timestamp:  m.Timestamp,
		})
		s.logger.Info("JOIN_GRANTED", "group_id", m.GroupID, "request_id", m.RequestID)

	case *model.GroupJoinRejection:
		s.push(event.GroupJoinRejected, event.JoinRejectedPayload{
			GroupID:    m.GroupID,
			RequestID:  m.RequestID,
			RejectedBy: m.RejectedBy,
			Timestamp:  m.Timestamp,
		})
		s.logger.Info("JOIN_DENIED", "group_id", m.GroupID, "request_id", m.RequestID)

	case *model.GroupMemberLeft:
		s.memberLeft(m)
	}
}

func (s *GroupService) handleChat(topic, groupID string, payload []byte) {
	msg, err := model.ParseGroupChat(payload)
	if err != nil {
		s.fail(topic, payload, err)
		return
	}

	switch m := msg.(type) {
	case *model.GroupMessage:
		if m.From == s.userID || s.seen.Seen(m.MessageID) {
			return
		}
		if m.GroupID == "" {
			m.GroupID = groupID
		}
		s.push(event.GroupMessageReceived, event.GroupMessagePayload{
			GroupID:   m.GroupID,
			From:      m.From,
			Content:   m.Content,
			MessageID: m.MessageID,
			Timestamp: m.Timestamp,
		})

	case *model.GroupMemberLeft:
		if m.UserID == s.userID {
			return
		}
		if m.GroupID == "" {
			m.GroupID = groupID
		}
		s.memberLeft(m)
	}
}

func (s *GroupService) memberLeft(m *model.GroupMemberLeft) {
	s.mu.Lock()
	if info, ok := s.adminGroups[m.GroupID]; ok && info.MemberCount > 1 {
		info.MemberCount--
	}
	s.mu.Unlock()

	s.push(event.GroupMemberLeft, event.MemberLeftPayload{
		GroupID:   m.GroupID,
		UserID:    m.UserID,
		Timestamp: m.Timestamp,
	})
	s.logger.Debug("GROUP_MEMBER_LEFT", "group_id", m.GroupID, "member", m.UserID)
}

func (s *GroupService) handleList(topic string, payload []byte) {
	// a cleared retained announcement carries no state
	if len(payload) == 0 {
		return
	}
	msg, err := model.ParseGroupList(payload)
	if err != nil {
		s.fail(topic, payload, err)
		return
	}

	switch m := msg.(type) {
	case *model.GroupCreate:
		if m.AdminID == s.userID {
			return
		}
		info := m.Info()
		s.mu.Lock()
		s.knownGroups[info.GroupID] = info
		s.mu.Unlock()
		s.push(event.GroupAnnounced, info)

	case *model.GroupListRequest:
		if m.RequestedBy != s.userID {
			s.answerListRequest(m)
		}

	case *model.GroupListResponse:
		if m.RespondedBy == s.userID {
			return
		}
		s.mu.Lock()
		for _, g := range m.Groups {
			s.knownGroups[g.GroupID] = g
		}
		s.mu.Unlock()
		s.push(event.GroupListReceived, event.GroupListPayload{
			RequestID:   m.RequestID,
			RespondedBy: m.RespondedBy,
			Groups:      m.Groups,
			Timestamp:   m.Timestamp,
		})
	}
}

// answerListRequest describes the groups this user administers; non-admins stay silent.
func (s *GroupService) answerListRequest(m *model.GroupListRequest) {
	groups := s.AdminGroups()
	if len(groups) == 0 {
		return
	}
	s.transport.Publish(model.GroupListTopic, model.GroupListResponse{
		Type:        model.TypeGroupListResponse,
		RequestID:   m.RequestID,
		RespondedBy: s.userID,
		Groups:      groups,
		Timestamp:   now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Debug("GROUP_LIST_ANSWERED", "request_id", m.RequestID, "to", m.RequestedBy, "groups", len(groups))
}
