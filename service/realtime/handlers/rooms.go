package handlers

import (
	"context"

	"CragProject/module/realtime/model"
	"CragProject/service/realtime"
	"CragProject/service/store"

	jsoniter "github.com/json-iterator/go"
)

// roomRule describes one joinable room kind.
type roomRule struct {
	kind      model.RoomKind
	idOf      func(data jsoniter.RawMessage) (string, error)
	authorize func(ctx context.Context, st store.Store, id, userID string) error
}

var roomRules = map[model.RoomKind]roomRule{
	model.RoomConversation: {
		kind: model.RoomConversation,
		idOf: func(data jsoniter.RawMessage) (string, error) {
			var ref model.ConversationRef
			if err := decode(data, &ref); err != nil {
				return "", err
			}
			return ref.ConversationID, required("conversationId", ref.ConversationID)
		},
		authorize: conversationAccess,
	},
	model.RoomGroup: {
		kind: model.RoomGroup,
		idOf: func(data jsoniter.RawMessage) (string, error) {
			var ref model.GroupRef
			if err := decode(data, &ref); err != nil {
				return "", err
			}
			return ref.GroupID, required("groupId", ref.GroupID)
		},
		authorize: groupAccess,
	},
	model.RoomPost: {
		kind: model.RoomPost,
		idOf: func(data jsoniter.RawMessage) (string, error) {
			var ref model.PostRef
			if err := decode(data, &ref); err != nil {
				return "", err
			}
			return ref.PostID, required("postId", ref.PostID)
		},
		authorize: func(ctx context.Context, st store.Store, id, _ string) error {
			_, err := postAccess(ctx, st, id)
			return err
		},
	},
	model.RoomGearList: {
		kind: model.RoomGearList,
		idOf: func(data jsoniter.RawMessage) (string, error) {
			var ref model.GearListRef
			if err := decode(data, &ref); err != nil {
				return "", err
			}
			return ref.GearListID, required("gearListId", ref.GearListID)
		},
		authorize: func(ctx context.Context, st store.Store, id, _ string) error {
			_, err := gearAccess(ctx, st, id)
			return err
		},
	},
}

type JoinHandler struct {
	event string
	rule  roomRule
}

func NewJoinHandler(event string, kind model.RoomKind) realtime.Handler {
	return &JoinHandler{event: event, rule: roomRules[kind]}
}

func (h *JoinHandler) Event() string { return h.event }

func (h *JoinHandler) Handle(c *realtime.Context, data jsoniter.RawMessage) error {
	id, err := h.rule.idOf(data)
	if err != nil {
		return err
	}
	if err := h.rule.authorize(c.Ctx, c.Hub.Store(), id, c.UserID()); err != nil {
		return err
	}
	c.Hub.Join(c.Conn, model.Room(h.rule.kind, id))
	return nil
}

// LeaveHandler needs no authorization; leaving a room never joined is a no-op.
type LeaveHandler struct {
	event string
	rule  roomRule
}

func NewLeaveHandler(event string, kind model.RoomKind) realtime.Handler {
	return &LeaveHandler{event: event, rule: roomRules[kind]}
}

func (h *LeaveHandler) Event() string { return h.event }

func (h *LeaveHandler) Handle(c *realtime.Context, data jsoniter.RawMessage) error {
	id, err := h.rule.idOf(data)
	if err != nil {
		return err
	}
	c.Hub.Leave(c.Conn, model.Room(h.rule.kind, id))
	return nil
}
