package store

import (
	"CragProject/module/realtime/model"
	"CragProject/tools/errs"
)

// ClampClaim clamps requested to [0, needed] and refuses it when it does not
// fit in the remaining capacity.
func ClampClaim(requested, needed, claimed int) (int, error) {
	q := requested
	if q > needed {
		q = needed
	}
	if q <= 0 {
		return 0, errs.ErrValidation.WrapMsg("claim quantity must be positive", "requested", requested)
	}
	if remaining := needed - claimed; q > remaining {
		return 0, errs.ErrValidation.WrapMsg("claim exceeds remaining capacity",
			"requested", q, "remaining", remaining)
	}
	return q, nil
}

// ClampUnclaim clamps requested to [0, held]; 0 or less releases everything held.
func ClampUnclaim(requested, held int) (int, error) {
	if held <= 0 {
		return 0, errs.ErrValidation.WrapMsg("nothing claimed to release")
	}
	if requested <= 0 || requested > held {
		return held, nil
	}
	return requested, nil
}

// Aggregate collapses a claim multiset (one user id per claimed unit, in claim
// order) into per-user quantities. Users keep the order of their first unit.
func Aggregate(listID string, item model.GearItem, units []string, names map[string]string) *model.ClaimAggregate {
	agg := &model.ClaimAggregate{
		GearListID:     listID,
		ItemID:         item.ID,
		ItemName:       item.Name,
		QuantityNeeded: item.QuantityNeeded,
		ClaimedByUsers: []model.ClaimedBy{},
	}
	pos := make(map[string]int)
	for _, uid := range units {
		i, ok := pos[uid]
		if !ok {
			i = len(agg.ClaimedByUsers)
			pos[uid] = i
			agg.ClaimedByUsers = append(agg.ClaimedByUsers, model.ClaimedBy{ID: uid, DisplayName: names[uid]})
		}
		agg.ClaimedByUsers[i].Quantity++
		agg.QuantityClaimed++
	}
	return agg
}
