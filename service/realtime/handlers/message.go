package handlers

import (
	"strings"

	"CragProject/logger"
	"CragProject/module/realtime/model"
	"CragProject/service/realtime"
	"CragProject/tools/errs"

	jsoniter "github.com/json-iterator/go"
)

func messageSend(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.MessageSend
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("conversationId", req.ConversationID); err != nil {
		return err
	}
	if strings.TrimSpace(req.TextContent) == "" && len(req.MediaURLs) == 0 {
		return errs.ErrValidation.WrapMsg("message needs text or media")
	}
	st := c.Hub.Store()
	if err := conversationAccess(c.Ctx, st, req.ConversationID, c.UserID()); err != nil {
		return err
	}
	participants, err := st.ConversationParticipants(c.Ctx, req.ConversationID)
	if err != nil {
		return denied(err, "conversation", req.ConversationID)
	}

	msg, err := st.AppendMessage(c.Ctx, model.NewMessage{
		ConversationID: req.ConversationID,
		SenderID:       c.UserID(),
		TextContent:    req.TextContent,
		MediaURLs:      req.MediaURLs,
	})
	if err != nil {
		return persistence(err)
	}

	key := model.ConversationRoom(req.ConversationID)
	ev := model.MessageEvent{Message: msg}
	_ = c.Reply(model.EvMessageSent, model.MessageSentEvent{TempID: req.TempID, Message: msg})
	c.Hub.Broadcast(key, model.EvMessageNew, ev, c.Conn)
	deliverOrQueue(c, key, participants, model.EvMessageNew, ev)
	body := preview(msg.TextContent, msg.MediaURLs)
	for _, uid := range participants {
		notify(c, uid, model.NotifyMessage, msg.ID, body)
	}
	c.Hub.Mirror(model.EvMessageNew, key, c.UserID(), ev)
	return nil
}

func messageRead(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.MessageReadReq
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("messageId", req.MessageID); err != nil {
		return err
	}
	st := c.Hub.Store()
	msg, err := st.Message(c.Ctx, req.MessageID)
	if err != nil {
		return denied(err, "message", req.MessageID)
	}
	if err := conversationAccess(c.Ctx, st, msg.ConversationID, c.UserID()); err != nil {
		return err
	}
	if msg.SenderID == c.UserID() {
		// own message, nothing to acknowledge
		logger.Debugf("[message:read] self read msg=%s user=%s", msg.ID, c.UserID())
		return nil
	}

	updated, err := st.MarkMessageRead(c.Ctx, msg.ID, c.Hub.Now())
	if err != nil {
		return persistence(err)
	}
	readAt := c.Hub.Now().UTC()
	if updated.ReadAt != nil {
		readAt = *updated.ReadAt
	}
	c.Hub.Broadcast(model.UserRoom(msg.SenderID), model.EvMessageRead, model.MessageReadEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReadAt:         readAt,
		ReadBy:         c.UserID(),
	}, nil)
	return nil
}
