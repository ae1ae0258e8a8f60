package positions

import (
	"math/big"

	"github.com/stablis/stablis-contracts/core/types"
	"github.com/stablis/stablis-contracts/crypto"
)

const (
	EventTypeOpened            = "positions.opened"
	EventTypeAdjusted          = "positions.adjusted"
	EventTypeClosed            = "positions.closed"
	EventTypeLiquidated        = "positions.liquidated"
	EventTypeLiquidationTotals = "positions.liquidation_totals"
	EventTypeRedemption        = "positions.redemption"
	EventTypeInterestAccrued   = "positions.interest_accrued"
)

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

func newPositionEvent(eventType string, p *Position) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"asset":  p.Asset,
			"owner":  p.Owner.String(),
			"debt":   bigString(p.Debt),
			"coll":   bigString(p.Collateral),
			"status": p.Status.String(),
		},
	}
}

func newLiquidatedEvent(asset string, owner crypto.Address, debt, coll *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidated,
		Attributes: map[string]string{
			"asset": asset,
			"owner": owner.String(),
			"debt":  bigString(debt),
			"coll":  bigString(coll),
		},
	}
}

func newLiquidationTotalsEvent(asset string, t *liquidationTotals) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidationTotals,
		Attributes: map[string]string{
			"asset":            asset,
			"debt":             bigString(t.debtInSequence),
			"coll":             bigString(t.collInSequence),
			"debtOffset":       bigString(t.debtToOffset),
			"collToPool":       bigString(t.collToPool),
			"debtRedistribute": bigString(t.debtToRedistribute),
			"collRedistribute": bigString(t.collToRedistribute),
			"collGasComp":      bigString(t.collGasComp),
			"reserve":          bigString(t.reserveTotal),
		},
	}
}

func newRedemptionEvent(asset string, redeemer crypto.Address, attempted, redeemed, collDrawn, fee *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRedemption,
		Attributes: map[string]string{
			"asset":     asset,
			"redeemer":  redeemer.String(),
			"attempted": bigString(attempted),
			"redeemed":  bigString(redeemed),
			"collDrawn": bigString(collDrawn),
			"fee":       bigString(fee),
		},
	}
}

func newInterestAccruedEvent(asset string, index, minted *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeInterestAccrued,
		Attributes: map[string]string{
			"asset":  asset,
			"index":  bigString(index),
			"minted": bigString(minted),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
