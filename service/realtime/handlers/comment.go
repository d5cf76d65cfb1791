package handlers

import (
	"strings"

	"CragProject/module/realtime/model"
	"CragProject/service/realtime"
	"CragProject/tools/errs"

	jsoniter "github.com/json-iterator/go"
)

func commentCreate(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.CommentCreate
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("postId", req.PostID); err != nil {
		return err
	}
	if strings.TrimSpace(req.Body) == "" {
		return errs.ErrValidation.WrapMsg("comment body required")
	}
	st := c.Hub.Store()
	post, err := postAccess(c.Ctx, st, req.PostID)
	if err != nil {
		return err
	}
	recipient, typ := post.AuthorID, model.NotifyComment
	if req.ParentID != "" {
		parent, err := st.Comment(c.Ctx, req.ParentID)
		if err != nil {
			return denied(err, "comment", req.ParentID)
		}
		if parent.PostID != req.PostID {
			return errs.ErrValidation.WrapMsg("parent belongs to another post", "parentId", req.ParentID)
		}
		recipient, typ = parent.AuthorID, model.NotifyReply
	}

	cm, err := st.CreateComment(c.Ctx, model.NewComment{
		PostID:   req.PostID,
		ParentID: req.ParentID,
		AuthorID: c.UserID(),
		Body:     req.Body,
	})
	if err != nil {
		return persistence(err)
	}

	key := model.PostRoom(req.PostID)
	ev := model.CommentEvent{PostID: req.PostID, Comment: cm, TempID: req.TempID}
	_ = c.Reply(model.EvCommentNew, ev)
	c.Hub.Broadcast(key, model.EvCommentNew, ev, c.Conn)
	notify(c, recipient, typ, cm.ID, preview(cm.Body, nil))
	c.Hub.Mirror(model.EvCommentNew, key, c.UserID(), ev)
	return nil
}

// ownComment loads commentID and checks it belongs to postID.
func ownComment(c *realtime.Context, postID, commentID string) (*model.Comment, *model.Post, error) {
	st := c.Hub.Store()
	post, err := postAccess(c.Ctx, st, postID)
	if err != nil {
		return nil, nil, err
	}
	cm, err := st.Comment(c.Ctx, commentID)
	if err != nil {
		return nil, nil, denied(err, "comment", commentID)
	}
	if cm.PostID != postID {
		return nil, nil, errs.ErrForbidden.WrapMsg("comment not on post", "commentId", commentID)
	}
	return cm, post, nil
}

func commentEdit(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.CommentEdit
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("postId", req.PostID); err != nil {
		return err
	}
	if err := required("commentId", req.CommentID); err != nil {
		return err
	}
	if strings.TrimSpace(req.Body) == "" {
		return errs.ErrValidation.WrapMsg("comment body required")
	}
	cm, _, err := ownComment(c, req.PostID, req.CommentID)
	if err != nil {
		return err
	}
	if cm.AuthorID != c.UserID() {
		return errs.ErrForbidden.WrapMsg("only the author can edit", "commentId", cm.ID)
	}

	edited, err := c.Hub.Store().EditComment(c.Ctx, cm.ID, req.Body, c.Hub.Now())
	if err != nil {
		return persistence(err)
	}
	key := model.PostRoom(req.PostID)
	ev := model.CommentEvent{PostID: req.PostID, Comment: edited}
	c.Hub.Broadcast(key, model.EvCommentEdited, ev, nil)
	c.Hub.Mirror(model.EvCommentEdited, key, c.UserID(), ev)
	return nil
}

func commentDelete(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.CommentDelete
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("postId", req.PostID); err != nil {
		return err
	}
	if err := required("commentId", req.CommentID); err != nil {
		return err
	}
	cm, post, err := ownComment(c, req.PostID, req.CommentID)
	if err != nil {
		return err
	}
	if cm.AuthorID != c.UserID() && post.AuthorID != c.UserID() {
		return errs.ErrForbidden.WrapMsg("only the author or post owner can delete", "commentId", cm.ID)
	}

	if err := c.Hub.Store().DeleteComment(c.Ctx, cm.ID); err != nil {
		return persistence(err)
	}
	key := model.PostRoom(req.PostID)
	ev := model.CommentDeletedEvent{PostID: req.PostID, CommentID: cm.ID}
	c.Hub.Broadcast(key, model.EvCommentDeleted, ev, nil)
	c.Hub.Mirror(model.EvCommentDeleted, key, c.UserID(), ev)
	return nil
}
