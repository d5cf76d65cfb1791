package handlers

import (
	"fmt"

	"CragProject/module/realtime/model"
	"CragProject/service/realtime"

	jsoniter "github.com/json-iterator/go"
)

// GearHandler serves gear:claim and gear:unclaim. The aggregate it broadcasts
// is always recomputed by the store from the claim multiset.
type GearHandler struct {
	unclaim bool
}

func NewGearClaimHandler() realtime.Handler   { return &GearHandler{} }
func NewGearUnclaimHandler() realtime.Handler { return &GearHandler{unclaim: true} }

func (h *GearHandler) Event() string {
	if h.unclaim {
		return model.EvGearUnclaim
	}
	return model.EvGearClaim
}

func (h *GearHandler) Handle(c *realtime.Context, data jsoniter.RawMessage) error {
	var req model.GearClaimReq
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("gearListId", req.GearListID); err != nil {
		return err
	}
	if err := required("itemId", req.ItemID); err != nil {
		return err
	}
	st := c.Hub.Store()
	list, err := gearAccess(c.Ctx, st, req.GearListID)
	if err != nil {
		return err
	}

	var agg *model.ClaimAggregate
	if h.unclaim {
		agg, err = st.UnclaimGear(c.Ctx, req.GearListID, req.ItemID, c.UserID(), req.Quantity)
	} else {
		agg, err = st.ClaimGear(c.Ctx, req.GearListID, req.ItemID, c.UserID(), req.Quantity)
	}
	if err != nil {
		return persistence(err)
	}

	event, verb := model.EvGearClaimed, "claimed"
	if h.unclaim {
		event, verb = model.EvGearUnclaimed, "released"
	}
	key := model.GearListRoom(req.GearListID)
	ev := model.GearClaimEvent{ClaimAggregate: *agg, UserID: c.UserID()}
	c.Hub.Broadcast(key, event, ev, nil)
	notify(c, list.CreatorID, model.NotifyGearClaim, req.GearListID,
		fmt.Sprintf("%s %s (%d/%d)", verb, agg.ItemName, agg.QuantityClaimed, agg.QuantityNeeded))
	c.Hub.Mirror(event, key, c.UserID(), ev)
	return nil
}
