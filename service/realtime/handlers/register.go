package handlers

import (
	"CragProject/module/realtime/model"
	"CragProject/service/realtime"
)

// RegisterAll binds every inbound event to h's dispatcher.
func RegisterAll(h *realtime.Hub) {
	h.Disp().Register(
		NewJoinHandler(model.EvConversationJoin, model.RoomConversation),
		NewLeaveHandler(model.EvConversationLeave, model.RoomConversation),
		NewJoinHandler(model.EvGroupJoin, model.RoomGroup),
		NewLeaveHandler(model.EvGroupLeave, model.RoomGroup),
		NewJoinHandler(model.EvPostJoin, model.RoomPost),
		NewLeaveHandler(model.EvPostLeave, model.RoomPost),
		NewJoinHandler(model.EvGearJoin, model.RoomGearList),
		NewLeaveHandler(model.EvGearLeave, model.RoomGearList),

		realtime.HandlerFunc{Name: model.EvMessageSend, Fn: messageSend},
		realtime.HandlerFunc{Name: model.EvMessageRead, Fn: messageRead},
		NewTypingHandler(model.EvTypingStart),
		NewTypingHandler(model.EvTypingStop),

		realtime.HandlerFunc{Name: model.EvGroupMessageSend, Fn: groupMessageSend},
		realtime.HandlerFunc{Name: model.EvGroupMessageRead, Fn: groupMessageRead},

		realtime.HandlerFunc{Name: model.EvCommentCreate, Fn: commentCreate},
		realtime.HandlerFunc{Name: model.EvCommentEdit, Fn: commentEdit},
		realtime.HandlerFunc{Name: model.EvCommentDelete, Fn: commentDelete},

		NewGearClaimHandler(),
		NewGearUnclaimHandler(),
	)
}
