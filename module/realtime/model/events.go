package model

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inbound event names.
const (
	EvConversationJoin  = "conversation:join"
	EvConversationLeave = "conversation:leave"
	EvGroupJoin         = "group:join"
	EvGroupLeave        = "group:leave"
	EvPostJoin          = "post:join"
	EvPostLeave         = "post:leave"
	EvGearJoin          = "gear:join"
	EvGearLeave         = "gear:leave"
	EvMessageSend       = "message:send"
	EvMessageRead       = "message:read"
	EvTypingStart       = "typing:start"
	EvTypingStop        = "typing:stop"
	EvGroupMessageSend  = "group:message:send"
	EvGroupMessageRead  = "group:message:read"
	EvCommentCreate     = "comment:create"
	EvCommentEdit       = "comment:edit"
	EvCommentDelete     = "comment:delete"
	EvGearClaim         = "gear:claim"
	EvGearUnclaim       = "gear:unclaim"
)

// Outbound event names.
const (
	EvMessageNew       = "message:new"
	EvMessageSent      = "message:sent"
	EvNotificationNew  = "notification:new"
	EvCommentNew       = "comment:new"
	EvCommentEdited    = "comment:edited"
	EvCommentDeleted   = "comment:deleted"
	EvGearClaimed      = "gear:claimed"
	EvGearUnclaimed    = "gear:unclaimed"
	EvGroupMessageNew  = "group:message:new"
	EvGroupMessageSent = "group:message:sent"
	EvPostLike         = "post:like"
	EvError            = "error"
	EvSessionReady     = "session:ready"
)

// Envelope is the frame exchanged on the websocket, one JSON text message each.
type Envelope struct {
	Event string              `json:"event"`
	Data  jsoniter.RawMessage `json:"data,omitempty"`
}

func EncodeEnvelope(event string, payload any) ([]byte, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
	case []byte:
		raw = p
	case jsoniter.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func DecodeEnvelope(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Unmarshal decodes a payload (used by both server handlers and the client).
func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// ---- inbound payloads ----

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

type GroupRef struct {
	GroupID string `json:"groupId"`
}

type PostRef struct {
	PostID string `json:"postId"`
}

type GearListRef struct {
	GearListID string `json:"gearListId"`
}

type MessageSend struct {
	ConversationID string   `json:"conversationId"`
	TextContent    string   `json:"textContent,omitempty"`
	MediaURLs      []string `json:"mediaUrls,omitempty"`
	TempID         string   `json:"tempId"`
}

type MessageReadReq struct {
	MessageID string `json:"messageId"`
}

type GroupMessageSend struct {
	GroupID     string   `json:"groupId"`
	TextContent string   `json:"textContent,omitempty"`
	MediaURLs   []string `json:"mediaUrls,omitempty"`
	TempID      string   `json:"tempId"`
}

type GroupMessageReadReq struct {
	GroupID   string `json:"groupId"`
	MessageID string `json:"messageId"`
}

type CommentCreate struct {
	PostID   string `json:"postId"`
	ParentID string `json:"parentId,omitempty"`
	Body     string `json:"body"`
	TempID   string `json:"tempId,omitempty"`
}

type CommentEdit struct {
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
	Body      string `json:"body"`
}

type CommentDelete struct {
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
}

type GearClaimReq struct {
	GearListID string `json:"gearListId"`
	ItemID     string `json:"itemId"`
	Quantity   int    `json:"quantity"`
}

// ---- outbound payloads ----

type MessageEvent struct {
	Message *Message `json:"message"`
}

type MessageSentEvent struct {
	TempID  string   `json:"tempId"`
	Message *Message `json:"message"`
}

type MessageReadEvent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
	ReadBy         string    `json:"readBy"`
}

type TypingEvent struct {
	ConversationID string      `json:"conversationId"`
	User           UserProfile `json:"user"`
}

type NotificationEvent struct {
	Notification *Notification `json:"notification"`
}

type CommentEvent struct {
	PostID  string   `json:"postId"`
	Comment *Comment `json:"comment"`
	TempID  string   `json:"tempId,omitempty"`
}

type CommentDeletedEvent struct {
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
}

type GearClaimEvent struct {
	ClaimAggregate
	UserID string `json:"userId"`
}

type GroupMessageEvent struct {
	Message *GroupMessage `json:"message"`
}

type GroupMessageSentEvent struct {
	TempID  string        `json:"tempId"`
	Message *GroupMessage `json:"message"`
}

type GroupMessageReadEvent struct {
	GroupID   string      `json:"groupId"`
	MessageID string      `json:"messageId"`
	Reader    UserProfile `json:"reader"`
}

type PostLikeEvent struct {
	PostID    string `json:"postId"`
	LikeCount int64  `json:"likeCount"`
}

type ErrorEvent struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
}

type SessionReadyEvent struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Flushed      int    `json:"flushed"`
}

// MirrorEvent is the compact copy of a persisted event published to an
// external bus for downstream consumers.
type MirrorEvent struct {
	ID      string              `json:"id"`
	Event   string              `json:"event"`
	RoomKey RoomKey             `json:"roomKey"`
	ActorID string              `json:"actorId"`
	Payload jsoniter.RawMessage `json:"payload"`
	At      time.Time           `json:"at"`
}
