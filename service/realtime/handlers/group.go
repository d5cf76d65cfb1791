package handlers

import (
	"strings"

	"CragProject/module/realtime/model"
	"CragProject/service/realtime"
	"CragProject/tools/errs"

	jsoniter "github.com/json-iterator/go"
)

func groupMessageSend(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.GroupMessageSend
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("groupId", req.GroupID); err != nil {
		return err
	}
	if strings.TrimSpace(req.TextContent) == "" && len(req.MediaURLs) == 0 {
		return errs.ErrValidation.WrapMsg("message needs text or media")
	}
	st := c.Hub.Store()
	if err := groupAccess(c.Ctx, st, req.GroupID, c.UserID()); err != nil {
		return err
	}
	members, err := st.GroupMembers(c.Ctx, req.GroupID)
	if err != nil {
		return denied(err, "group", req.GroupID)
	}

	msg, err := st.AppendGroupMessage(c.Ctx, model.NewGroupMessage{
		GroupID:     req.GroupID,
		SenderID:    c.UserID(),
		TextContent: req.TextContent,
		MediaURLs:   req.MediaURLs,
	})
	if err != nil {
		return persistence(err)
	}

	key := model.GroupRoom(req.GroupID)
	ev := model.GroupMessageEvent{Message: msg}
	_ = c.Reply(model.EvGroupMessageSent, model.GroupMessageSentEvent{TempID: req.TempID, Message: msg})
	c.Hub.Broadcast(key, model.EvGroupMessageNew, ev, c.Conn)
	deliverOrQueue(c, key, members, model.EvGroupMessageNew, ev)
	body := preview(msg.TextContent, msg.MediaURLs)
	for _, uid := range members {
		notify(c, uid, model.NotifyGroupMessage, msg.ID, body)
	}
	c.Hub.Mirror(model.EvGroupMessageNew, key, c.UserID(), ev)
	return nil
}

func groupMessageRead(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.GroupMessageReadReq
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("groupId", req.GroupID); err != nil {
		return err
	}
	if err := required("messageId", req.MessageID); err != nil {
		return err
	}
	st := c.Hub.Store()
	if err := groupAccess(c.Ctx, st, req.GroupID, c.UserID()); err != nil {
		return err
	}
	_, added, err := st.MarkGroupMessageRead(c.Ctx, req.GroupID, req.MessageID, c.UserID())
	if err != nil {
		return denied(err, "group message", req.MessageID)
	}
	if !added {
		return nil
	}
	c.Hub.Broadcast(model.GroupRoom(req.GroupID), model.EvGroupMessageRead, model.GroupMessageReadEvent{
		GroupID:   req.GroupID,
		MessageID: req.MessageID,
		Reader:    profileOf(c, c.UserID()),
	}, nil)
	return nil
}
