// Package store is the persistence facade the realtime router consumes.
// Implementations return errs.ErrNotFound for missing records and
// errs.ErrValidation when a claim mutation is refused; anything else is a
// persistence failure.
package store

import (
	"context"
	"time"

	"CragProject/module/realtime/model"
)

type Users interface {
	UserProfile(ctx context.Context, userID string) (*model.UserProfile, error)
}

type Conversations interface {
	IsConversationParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
	// AppendMessage persists m and returns it with the sender profile joined.
	AppendMessage(ctx context.Context, m model.NewMessage) (*model.Message, error)
	Message(ctx context.Context, messageID string) (*model.Message, error)
	// MarkMessageRead keeps the first read timestamp when called again.
	MarkMessageRead(ctx context.Context, messageID string, at time.Time) (*model.Message, error)
}

type Groups interface {
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	AppendGroupMessage(ctx context.Context, m model.NewGroupMessage) (*model.GroupMessage, error)
	// MarkGroupMessageRead adds readerID to the message's reader set.
	// added is false when the reader was already in it.
	MarkGroupMessageRead(ctx context.Context, groupID, messageID, readerID string) (readBy []string, added bool, err error)
}

type Posts interface {
	Post(ctx context.Context, postID string) (*model.Post, error)
	Comment(ctx context.Context, commentID string) (*model.Comment, error)
	CreateComment(ctx context.Context, c model.NewComment) (*model.Comment, error)
	EditComment(ctx context.Context, commentID, body string, at time.Time) (*model.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
}

type Gear interface {
	GearList(ctx context.Context, gearListID string) (*model.GearList, error)
	// ClaimGear adds quantity units for userID in one transaction and returns
	// the aggregate recomputed from the claim multiset.
	ClaimGear(ctx context.Context, gearListID, itemID, userID string, quantity int) (*model.ClaimAggregate, error)
	// UnclaimGear releases up to quantity of userID's units; quantity <= 0 releases all.
	UnclaimGear(ctx context.Context, gearListID, itemID, userID string, quantity int) (*model.ClaimAggregate, error)
}

type Notifications interface {
	// CreateNotification persists n unless the recipient opted out of n.Type.
	// A missing preference record means notify. created is false when skipped.
	CreateNotification(ctx context.Context, n model.NewNotification) (notif *model.Notification, created bool, err error)
}

type Store interface {
	Users
	Conversations
	Groups
	Posts
	Gear
	Notifications
}
