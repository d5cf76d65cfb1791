package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"CragProject/module/realtime/model"
	"CragProject/service/store"
	"CragProject/tools/errs"
)

func (s *Store) GearList(ctx context.Context, gearListID string) (*model.GearList, error) {
	gl := model.GearList{ID: gearListID}
	err := s.db.QueryRowContext(ctx, `SELECT creator_id FROM gear_lists WHERE id = $1`, gearListID).Scan(&gl.CreatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("gear list", "id", gearListID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "load gear list")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, quantity_needed FROM gear_items WHERE gear_list_id = $1 ORDER BY id`, gearListID)
	if err != nil {
		return nil, errs.WrapMsg(err, "load gear items")
	}
	defer rows.Close()
	gl.Items = []model.GearItem{}
	for rows.Next() {
		it := model.GearItem{ListID: gearListID}
		if err := rows.Scan(&it.ID, &it.Name, &it.QuantityNeeded); err != nil {
			return nil, errs.WrapMsg(err, "scan gear item")
		}
		gl.Items = append(gl.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.WrapMsg(err, "load gear items")
	}
	return &gl, nil
}

// ClaimGear locks the item row so concurrent claims see each other's units.
func (s *Store) ClaimGear(ctx context.Context, gearListID, itemID, userID string, quantity int) (*model.ClaimAggregate, error) {
	var agg *model.ClaimAggregate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		item, err := lockItem(ctx, tx, gearListID, itemID)
		if err != nil {
			return err
		}
		units, _, err := claimUnits(ctx, tx, itemID)
		if err != nil {
			return err
		}
		q, err := store.ClampClaim(quantity, item.QuantityNeeded, len(units))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO gear_claims (item_id, user_id, claimed_at)
SELECT $1, $2, $3 FROM generate_series(1, $4)`, itemID, userID, s.now().UTC(), q); err != nil {
			return errs.WrapMsg(err, "insert claims")
		}
		agg, err = aggregate(ctx, tx, gearListID, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// UnclaimGear releases the user's most recent units first.
func (s *Store) UnclaimGear(ctx context.Context, gearListID, itemID, userID string, quantity int) (*model.ClaimAggregate, error) {
	var agg *model.ClaimAggregate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		item, err := lockItem(ctx, tx, gearListID, itemID)
		if err != nil {
			return err
		}
		units, _, err := claimUnits(ctx, tx, itemID)
		if err != nil {
			return err
		}
		held := 0
		for _, u := range units {
			if u == userID {
				held++
			}
		}
		q, err := store.ClampUnclaim(quantity, held)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
DELETE FROM gear_claims WHERE id IN (
    SELECT id FROM gear_claims WHERE item_id = $1 AND user_id = $2 ORDER BY id DESC LIMIT $3
)`, itemID, userID, q); err != nil {
			return errs.WrapMsg(err, "delete claims")
		}
		agg, err = aggregate(ctx, tx, gearListID, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func lockItem(ctx context.Context, tx *sql.Tx, gearListID, itemID string) (model.GearItem, error) {
	it := model.GearItem{ID: itemID, ListID: gearListID}
	err := tx.QueryRowContext(ctx,
		`SELECT name, quantity_needed FROM gear_items WHERE id = $1 AND gear_list_id = $2 FOR UPDATE`,
		itemID, gearListID).Scan(&it.Name, &it.QuantityNeeded)
	if errors.Is(err, sql.ErrNoRows) {
		return it, errs.ErrNotFound.WrapMsg("gear item", "list", gearListID, "id", itemID)
	}
	if err != nil {
		return it, errs.WrapMsg(err, "lock gear item")
	}
	return it, nil
}

// claimUnits returns the claim multiset in claim order plus display names.
func claimUnits(ctx context.Context, tx *sql.Tx, itemID string) ([]string, map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT c.user_id, COALESCE(u.display_name, '')
FROM gear_claims c LEFT JOIN users u ON u.id = c.user_id
WHERE c.item_id = $1 ORDER BY c.id`, itemID)
	if err != nil {
		return nil, nil, errs.WrapMsg(err, "load claims")
	}
	defer rows.Close()
	units := []string{}
	names := map[string]string{}
	for rows.Next() {
		var uid, name string
		if err := rows.Scan(&uid, &name); err != nil {
			return nil, nil, errs.WrapMsg(err, "scan claim")
		}
		units = append(units, uid)
		names[uid] = name
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errs.WrapMsg(err, "load claims")
	}
	return units, names, nil
}

func aggregate(ctx context.Context, tx *sql.Tx, gearListID string, item model.GearItem) (*model.ClaimAggregate, error) {
	units, names, err := claimUnits(ctx, tx, item.ID)
	if err != nil {
		return nil, err
	}
	return store.Aggregate(gearListID, item, units, names), nil
}
