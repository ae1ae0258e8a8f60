package stability

import (
	"math/big"

	"github.com/stablis/stablis-contracts/core/types"
	"github.com/stablis/stablis-contracts/crypto"
)

const (
	EventTypeDepositUpdated = "stability.deposit_updated"
	EventTypeGainsPaid      = "stability.gains_paid"
	EventTypeGainToPosition = "stability.gain_to_position"
	EventTypeOffset         = "stability.offset"
	EventTypeScaleUpdated   = "stability.scale_updated"
	EventTypeEpochUpdated   = "stability.epoch_updated"
)

type poolEvent struct {
	evt *types.Event
}

func (e poolEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e poolEvent) Event() *types.Event { return e.evt }

func newDepositUpdatedEvent(owner crypto.Address, newValue *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDepositUpdated,
		Attributes: map[string]string{
			"owner": owner.String(),
			"value": bigString(newValue),
		},
	}
}

func newGainsPaidEvent(owner crypto.Address, reward *big.Int, collateral map[string]*big.Int) *types.Event {
	attrs := map[string]string{
		"owner":  owner.String(),
		"reward": bigString(reward),
	}
	for asset, gain := range collateral {
		if gain != nil && gain.Sign() > 0 {
			attrs["coll:"+asset] = gain.String()
		}
	}
	return &types.Event{Type: EventTypeGainsPaid, Attributes: attrs}
}

func newGainToPositionEvent(owner crypto.Address, asset string, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeGainToPosition,
		Attributes: map[string]string{
			"owner":  owner.String(),
			"asset":  asset,
			"amount": bigString(amount),
		},
	}
}

func newOffsetEvent(asset string, debt, coll, newP *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeOffset,
		Attributes: map[string]string{
			"asset":   asset,
			"debt":    bigString(debt),
			"coll":    bigString(coll),
			"product": bigString(newP),
		},
	}
}

func newScaleUpdatedEvent(scale uint64) *types.Event {
	return &types.Event{
		Type:       EventTypeScaleUpdated,
		Attributes: map[string]string{"scale": uintString(scale)},
	}
}

func newEpochUpdatedEvent(epoch uint64) *types.Event {
	return &types.Event{
		Type:       EventTypeEpochUpdated,
		Attributes: map[string]string{"epoch": uintString(epoch)},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uintString(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
