// Package handlers binds inbound websocket events to the persistence facade.
// Every handler authorizes against persisted state first, performs at most one
// persisted mutation, and only then emits.
package handlers

import (
	"context"
	"errors"
	"strings"

	"CragProject/logger"
	"CragProject/module/realtime/model"
	"CragProject/service/realtime"
	"CragProject/service/store"
	"CragProject/tools/errs"

	jsoniter "github.com/json-iterator/go"
)

func decode(data jsoniter.RawMessage, v any) error {
	if len(data) == 0 {
		return errs.ErrValidation.WrapMsg("missing payload")
	}
	if err := model.Unmarshal(data, v); err != nil {
		return errs.ErrValidation.WrapMsg("bad payload", "err", err)
	}
	return nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return errs.ErrValidation.WrapMsg("field required", "field", field)
	}
	return nil
}

// persistence tags uncoded store failures so the peer sees PERSISTENCE_FAILED.
func persistence(err error) error {
	if err == nil {
		return nil
	}
	if errs.CodeOf(err) == errs.CodeInternal {
		return errs.ErrPersistence.WrapMsg("store", "err", err)
	}
	return err
}

// denied turns a missing record into Forbidden so lookups never reveal
// whether something exists.
func denied(err error, what, id string) error {
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrForbidden.WrapMsg(what, "id", id)
	}
	return persistence(err)
}

func conversationAccess(ctx context.Context, st store.Store, conversationID, userID string) error {
	ok, err := st.IsConversationParticipant(ctx, conversationID, userID)
	if err != nil {
		return denied(err, "conversation", conversationID)
	}
	if !ok {
		return errs.ErrForbidden.WrapMsg("not a participant", "conversation", conversationID)
	}
	return nil
}

func groupAccess(ctx context.Context, st store.Store, groupID, userID string) error {
	ok, err := st.IsGroupMember(ctx, groupID, userID)
	if err != nil {
		return denied(err, "group", groupID)
	}
	if !ok {
		return errs.ErrForbidden.WrapMsg("not a member", "group", groupID)
	}
	return nil
}

func postAccess(ctx context.Context, st store.Store, postID string) (*model.Post, error) {
	p, err := st.Post(ctx, postID)
	if err != nil {
		return nil, denied(err, "post", postID)
	}
	return p, nil
}

func gearAccess(ctx context.Context, st store.Store, gearListID string) (*model.GearList, error) {
	gl, err := st.GearList(ctx, gearListID)
	if err != nil {
		return nil, denied(err, "gear list", gearListID)
	}
	return gl, nil
}

// notify persists a notification for recipient and pushes it to their user
// room. Self-notifications and opted-out recipients are skipped; failures are
// logged since the triggering mutation already succeeded.
func notify(c *realtime.Context, recipient string, typ model.NotificationType, entityID, body string) {
	if recipient == "" || recipient == c.UserID() {
		return
	}
	n, created, err := c.Hub.Store().CreateNotification(c.Ctx, model.NewNotification{
		UserID:   recipient,
		ActorID:  c.UserID(),
		Type:     typ,
		EntityID: entityID,
		Body:     body,
	})
	if err != nil {
		logger.Warnf("[notify] type=%s to=%s err=%v", typ, recipient, err)
		return
	}
	if !created {
		return
	}
	c.Hub.Broadcast(model.UserRoom(recipient), model.EvNotificationNew, model.NotificationEvent{Notification: n}, nil)
}

// deliverOrQueue queues event for every user in recipients that has no live
// connection in key.
func deliverOrQueue(c *realtime.Context, key model.RoomKey, recipients []string, event string, payload any) {
	raw, err := model.Marshal(payload)
	if err != nil {
		logger.Errorf("[queue] encode event=%s err=%v", event, err)
		return
	}
	for _, uid := range recipients {
		if uid == c.UserID() || c.Hub.HasUser(key, uid) {
			continue
		}
		if err := c.Hub.Enqueue(c.Ctx, uid, event, raw); err != nil {
			logger.Errorf("[queue] event=%s to=%s err=%v", event, uid, err)
		}
	}
}

func preview(text string, media []string) string {
	const max = 80
	text = strings.TrimSpace(text)
	if text == "" && len(media) > 0 {
		return "sent an attachment"
	}
	r := []rune(text)
	if len(r) > max {
		return string(r[:max]) + "…"
	}
	return text
}

func profileOf(c *realtime.Context, userID string) model.UserProfile {
	p, err := c.Hub.Store().UserProfile(c.Ctx, userID)
	if err != nil || p == nil {
		return model.UserProfile{ID: userID}
	}
	return *p
}
