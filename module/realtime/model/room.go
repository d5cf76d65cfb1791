package model

import (
	"fmt"
	"strings"
)

type RoomKind string

const (
	RoomConversation RoomKind = "conversation"
	RoomGroup        RoomKind = "group"
	RoomPost         RoomKind = "post"
	RoomGearList     RoomKind = "gear-list"
	RoomUser         RoomKind = "user"
)

func (k RoomKind) Valid() bool {
	switch k {
	case RoomConversation, RoomGroup, RoomPost, RoomGearList, RoomUser:
		return true
	}
	return false
}

// RoomKey is the logical topic "kind:id".
type RoomKey string

func Room(kind RoomKind, id string) RoomKey {
	return RoomKey(string(kind) + ":" + id)
}

func ConversationRoom(id string) RoomKey { return Room(RoomConversation, id) }
func GroupRoom(id string) RoomKey        { return Room(RoomGroup, id) }
func PostRoom(id string) RoomKey         { return Room(RoomPost, id) }
func GearListRoom(id string) RoomKey     { return Room(RoomGearList, id) }
func UserRoom(id string) RoomKey         { return Room(RoomUser, id) }

func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("invalid room key %q", s)
	}
	if !RoomKind(kind).Valid() {
		return "", fmt.Errorf("unknown room kind %q", kind)
	}
	return RoomKey(s), nil
}

func (k RoomKey) Kind() RoomKind {
	kind, _, _ := strings.Cut(string(k), ":")
	return RoomKind(kind)
}

func (k RoomKey) ID() string {
	_, id, _ := strings.Cut(string(k), ":")
	return id
}

func (k RoomKey) String() string { return string(k) }
