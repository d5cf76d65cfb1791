package handlers

import (
	"CragProject/module/realtime/model"
	"CragProject/service/realtime"

	jsoniter "github.com/json-iterator/go"
)

// TypingHandler relays typing:start / typing:stop. Nothing is stored and the
// server never times an indicator out.
type TypingHandler struct {
	event string
}

func NewTypingHandler(event string) realtime.Handler { return &TypingHandler{event: event} }

func (h *TypingHandler) Event() string { return h.event }

func (h *TypingHandler) Handle(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.ConversationRef
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("conversationId", req.ConversationID); err != nil {
		return err
	}
	if err := conversationAccess(c.Ctx, c.Hub.Store(), req.ConversationID, c.UserID()); err != nil {
		return err
	}
	c.Hub.Broadcast(model.ConversationRoom(req.ConversationID), h.event, model.TypingEvent{
		ConversationID: req.ConversationID,
		User:           profileOf(c, c.UserID()),
	}, c.Conn)
	return nil
}
