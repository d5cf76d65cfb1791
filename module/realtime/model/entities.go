package model

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Sender         UserProfile `json:"sender"`
	TextContent    string      `json:"textContent,omitempty"`
	MediaURLs      []string    `json:"mediaUrls"`
	CreatedAt      time.Time   `json:"createdAt"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
}

type NewMessage struct {
	ConversationID string
	SenderID       string
	TextContent    string
	MediaURLs      []string
}

type GroupMessage struct {
	ID          string      `json:"id"`
	GroupID     string      `json:"groupId"`
	SenderID    string      `json:"senderId"`
	Sender      UserProfile `json:"sender"`
	TextContent string      `json:"textContent,omitempty"`
	MediaURLs   []string    `json:"mediaUrls"`
	CreatedAt   time.Time   `json:"createdAt"`
	ReadBy      []string    `json:"readBy"`
}

type NewGroupMessage struct {
	GroupID     string
	SenderID    string
	TextContent string
	MediaURLs   []string
}

type Post struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
}

type Comment struct {
	ID        string      `json:"id"`
	PostID    string      `json:"postId"`
	ParentID  string      `json:"parentId,omitempty"`
	AuthorID  string      `json:"authorId"`
	Author    UserProfile `json:"author"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"createdAt"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
}

type NewComment struct {
	PostID   string
	ParentID string
	AuthorID string
	Body     string
}

type GearList struct {
	ID        string     `json:"id"`
	CreatorID string     `json:"creatorId"`
	Items     []GearItem `json:"items"`
}

type GearItem struct {
	ID             string `json:"id"`
	ListID         string `json:"gearListId"`
	Name           string `json:"name"`
	QuantityNeeded int    `json:"quantityNeeded"`
}

// ClaimedBy is one user's share of an item's claim multiset.
type ClaimedBy struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Quantity    int    `json:"quantity"`
}

// ClaimAggregate is derived from the claim multiset and never stored on its own.
type ClaimAggregate struct {
	GearListID      string      `json:"gearListId"`
	ItemID          string      `json:"itemId"`
	ItemName        string      `json:"itemName"`
	QuantityNeeded  int         `json:"quantityNeeded"`
	QuantityClaimed int         `json:"quantityClaimed"`
	ClaimedByUsers  []ClaimedBy `json:"claimedByUsers"`
}

type NotificationType string

const (
	NotifyMessage      NotificationType = "message"
	NotifyGroupMessage NotificationType = "group_message"
	NotifyComment      NotificationType = "comment"
	NotifyReply        NotificationType = "reply"
	NotifyGearClaim    NotificationType = "gear_claim"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	ActorID   string           `json:"actorId"`
	Actor     UserProfile      `json:"actor"`
	Type      NotificationType `json:"type"`
	EntityID  string           `json:"entityId"`
	Body      string           `json:"body,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

type NewNotification struct {
	UserID   string
	ActorID  string
	Type     NotificationType
	EntityID string
	Body     string
}

type QueuedEvent struct {
	UserID     string              `json:"userId"`
	Event      string              `json:"event"`
	Payload    jsoniter.RawMessage `json:"payload"`
	EnqueuedAt time.Time           `json:"enqueuedAt"`
}
