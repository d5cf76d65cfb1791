// Package memstore is an in-process store.Store used by tests and local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"CragProject/module/realtime/model"
	"CragProject/service/store"
	"CragProject/tools/errs"
	"CragProject/tools/ids"
)

type message struct {
	model.Message
}

type groupMessage struct {
	model.GroupMessage
	readers map[string]struct{}
}

type comment struct {
	model.Comment
	deleted bool
}

type Store struct {
	mu    sync.RWMutex
	now   func() time.Time
	users map[string]model.UserProfile

	conversations map[string]map[string]struct{} // conversation -> participants
	messages      map[string]*message
	convOrder     map[string][]string

	groups        map[string]map[string]struct{}
	groupMessages map[string]*groupMessage

	posts    map[string]model.Post
	comments map[string]*comment

	gearLists map[string]*model.GearList
	claims    map[string][]string // claimKey(list, item) -> claim multiset, one user id per unit

	prefs         map[string]map[model.NotificationType]bool
	notifications map[string][]*model.Notification
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:           time.Now,
		users:         make(map[string]model.UserProfile),
		conversations: make(map[string]map[string]struct{}),
		messages:      make(map[string]*message),
		convOrder:     make(map[string][]string),
		groups:        make(map[string]map[string]struct{}),
		groupMessages: make(map[string]*groupMessage),
		posts:         make(map[string]model.Post),
		comments:      make(map[string]*comment),
		gearLists:     make(map[string]*model.GearList),
		claims:        make(map[string][]string),
		prefs:         make(map[string]map[model.NotificationType]bool),
		notifications: make(map[string][]*model.Notification),
	}
}

// ===== seeding =====

func (s *Store) AddUser(id, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = model.UserProfile{ID: id, DisplayName: displayName}
}

func (s *Store) AddConversation(id string, participants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = toSet(participants)
}

func (s *Store) AddGroup(id string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[id] = toSet(members)
}

func (s *Store) AddPost(id, authorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[id] = model.Post{ID: id, AuthorID: authorID}
}

func (s *Store) AddGearList(list model.GearList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := list
	cp.Items = append([]model.GearItem(nil), list.Items...)
	for i := range cp.Items {
		cp.Items[i].ListID = list.ID
	}
	s.gearLists[list.ID] = &cp
}

func (s *Store) SetPreference(userID string, typ model.NotificationType, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs[userID] == nil {
		s.prefs[userID] = make(map[model.NotificationType]bool)
	}
	s.prefs[userID][typ] = enabled
}

// ===== inspection =====

func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, len(s.convOrder[conversationID]))
	for _, id := range s.convOrder[conversationID] {
		out = append(out, s.messages[id].Message)
	}
	return out
}

func (s *Store) Notifications(userID string) []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, 0, len(s.notifications[userID]))
	for _, n := range s.notifications[userID] {
		out = append(out, *n)
	}
	return out
}

// ===== users =====

func (s *Store) UserProfile(_ context.Context, userID string) (*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.profileLocked(userID)
	return &p, nil
}

// profileLocked falls back to a bare profile; unknown users still route.
func (s *Store) profileLocked(userID string) model.UserProfile {
	if p, ok := s.users[userID]; ok {
		return p
	}
	return model.UserProfile{ID: userID}
}

// ===== conversations =====

func (s *Store) IsConversationParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[conversationID][userID]
	return ok, nil
}

func (s *Store) ConversationParticipants(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.conversations[conversationID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", conversationID)
	}
	return fromSet(set), nil
}

func (s *Store) AppendMessage(_ context.Context, m model.NewMessage) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", m.ConversationID)
	}
	msg := &message{Message: model.Message{
		ID:             ids.Prefixed("m"),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Sender:         s.profileLocked(m.SenderID),
		TextContent:    m.TextContent,
		MediaURLs:      append([]string{}, m.MediaURLs...),
		CreatedAt:      s.now().UTC(),
	}}
	s.messages[msg.ID] = msg
	s.convOrder[m.ConversationID] = append(s.convOrder[m.ConversationID], msg.ID)
	out := msg.Message
	return &out, nil
}

func (s *Store) Message(_ context.Context, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	out := m.Message
	return &out, nil
}

func (s *Store) MarkMessageRead(_ context.Context, messageID string, at time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	if m.ReadAt == nil {
		t := at.UTC()
		m.ReadAt = &t
	}
	out := m.Message
	return &out, nil
}

// ===== groups =====

func (s *Store) IsGroupMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID][userID]
	return ok, nil
}

func (s *Store) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.groups[groupID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("group", "id", groupID)
	}
	return fromSet(set), nil
}

func (s *Store) AppendGroupMessage(_ context.Context, m model.NewGroupMessage) (*model.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[m.GroupID]; !ok {
		return nil, errs.ErrNotFound.WrapMsg("group", "id", m.GroupID)
	}
	gm := &groupMessage{
		GroupMessage: model.GroupMessage{
			ID:          ids.Prefixed("gm"),
			GroupID:     m.GroupID,
			SenderID:    m.SenderID,
			Sender:      s.profileLocked(m.SenderID),
			TextContent: m.TextContent,
			MediaURLs:   append([]string{}, m.MediaURLs...),
			CreatedAt:   s.now().UTC(),
			ReadBy:      []string{},
		},
		readers: make(map[string]struct{}),
	}
	s.groupMessages[gm.ID] = gm
	out := gm.GroupMessage
	return &out, nil
}

func (s *Store) MarkGroupMessageRead(_ context.Context, groupID, messageID, readerID string) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gm, ok := s.groupMessages[messageID]
	if !ok || gm.GroupID != groupID {
		return nil, false, errs.ErrNotFound.WrapMsg("group message", "id", messageID)
	}
	_, seen := gm.readers[readerID]
	if !seen {
		gm.readers[readerID] = struct{}{}
		gm.ReadBy = append(gm.ReadBy, readerID)
	}
	return append([]string(nil), gm.ReadBy...), !seen, nil
}

// ===== posts & comments =====

func (s *Store) Post(_ context.Context, postID string) (*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[postID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("post", "id", postID)
	}
	return &p, nil
}

func (s *Store) Comment(_ context.Context, commentID string) (*model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[commentID]
	if !ok || c.deleted {
		return nil, errs.ErrNotFound.WrapMsg("comment", "id", commentID)
	}
	out := c.Comment
	return &out, nil
}

func (s *Store) CreateComment(_ context.Context, nc model.NewComment) (*model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[nc.PostID]; !ok {
		return nil, errs.ErrNotFound.WrapMsg("post", "id", nc.PostID)
	}
	if nc.ParentID != "" {
		parent, ok := s.comments[nc.ParentID]
		if !ok || parent.deleted || parent.PostID != nc.PostID {
			return nil, errs.ErrNotFound.WrapMsg("parent comment", "id", nc.ParentID)
		}
	}
	c := &comment{Comment: model.Comment{
		ID:        ids.Prefixed("cm"),
		PostID:    nc.PostID,
		ParentID:  nc.ParentID,
		AuthorID:  nc.AuthorID,
		Author:    s.profileLocked(nc.AuthorID),
		Body:      nc.Body,
		CreatedAt: s.now().UTC(),
	}}
	s.comments[c.ID] = c
	out := c.Comment
	return &out, nil
}

func (s *Store) EditComment(_ context.Context, commentID, body string, at time.Time) (*model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok || c.deleted {
		return nil, errs.ErrNotFound.WrapMsg("comment", "id", commentID)
	}
	t := at.UTC()
	c.Body = body
	c.EditedAt = &t
	out := c.Comment
	return &out, nil
}

func (s *Store) DeleteComment(_ context.Context, commentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok || c.deleted {
		return errs.ErrNotFound.WrapMsg("comment", "id", commentID)
	}
	c.deleted = true
	return nil
}

// ===== gear =====

func (s *Store) GearList(_ context.Context, gearListID string) (*model.GearList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gl, ok := s.gearLists[gearListID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("gear list", "id", gearListID)
	}
	out := *gl
	out.Items = append([]model.GearItem(nil), gl.Items...)
	return &out, nil
}

func (s *Store) ClaimGear(_ context.Context, gearListID, itemID, userID string, quantity int) (*model.ClaimAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.itemLocked(gearListID, itemID)
	if err != nil {
		return nil, err
	}
	key := claimKey(gearListID, itemID)
	units := s.claims[key]
	q, err := store.ClampClaim(quantity, item.QuantityNeeded, len(units))
	if err != nil {
		return nil, err
	}
	for i := 0; i < q; i++ {
		units = append(units, userID)
	}
	s.claims[key] = units
	return s.aggregateLocked(gearListID, item), nil
}

func (s *Store) UnclaimGear(_ context.Context, gearListID, itemID, userID string, quantity int) (*model.ClaimAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.itemLocked(gearListID, itemID)
	if err != nil {
		return nil, err
	}
	key := claimKey(gearListID, itemID)
	units := s.claims[key]
	held := 0
	for _, u := range units {
		if u == userID {
			held++
		}
	}
	q, err := store.ClampUnclaim(quantity, held)
	if err != nil {
		return nil, err
	}
	// release the user's most recent units first
	kept := make([]string, 0, len(units)-q)
	for i := len(units) - 1; i >= 0; i-- {
		if units[i] == userID && q > 0 {
			q--
			continue
		}
		kept = append(kept, units[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	s.claims[key] = kept
	return s.aggregateLocked(gearListID, item), nil
}

func (s *Store) itemLocked(gearListID, itemID string) (model.GearItem, error) {
	gl, ok := s.gearLists[gearListID]
	if !ok {
		return model.GearItem{}, errs.ErrNotFound.WrapMsg("gear list", "id", gearListID)
	}
	for _, it := range gl.Items {
		if it.ID == itemID {
			return it, nil
		}
	}
	return model.GearItem{}, errs.ErrNotFound.WrapMsg("gear item", "id", itemID)
}

// item ids are only unique within their list
func claimKey(gearListID, itemID string) string {
	return gearListID + "/" + itemID
}

func (s *Store) aggregateLocked(gearListID string, item model.GearItem) *model.ClaimAggregate {
	units := s.claims[claimKey(gearListID, item.ID)]
	names := make(map[string]string)
	for _, u := range units {
		names[u] = s.profileLocked(u).DisplayName
	}
	return store.Aggregate(gearListID, item, units, names)
}

// ===== notifications =====

func (s *Store) CreateNotification(_ context.Context, n model.NewNotification) (*model.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled, ok := s.prefs[n.UserID][n.Type]; ok && !enabled {
		return nil, false, nil
	}
	notif := &model.Notification{
		ID:        ids.Prefixed("n"),
		UserID:    n.UserID,
		ActorID:   n.ActorID,
		Actor:     s.profileLocked(n.ActorID),
		Type:      n.Type,
		EntityID:  n.EntityID,
		Body:      n.Body,
		CreatedAt: s.now().UTC(),
	}
	s.notifications[n.UserID] = append(s.notifications[n.UserID], notif)
	out := *notif
	return &out, true, nil
}

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func fromSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for x := range m {
		out = append(out, x)
	}
	sort.Strings(out)
	return out
}
