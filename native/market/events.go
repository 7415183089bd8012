package market

import (
	"encoding/hex"
	"math/big"

	"musemarket/core/types"
)

const (
	EventTypeInitialized = "market.initialized"
	EventTypeListed      = "market.listed"
	EventTypeSold        = "market.sold"
)

// NewInitializedEvent returns the canonical event payload for a freshly
// created listing.
func NewInitializedEvent(r *LockRecord) *types.Event {
	return newMarketEvent(EventTypeInitialized, r)
}

// NewListedEvent returns the canonical event payload emitted when the asset is
// escrowed and priced.
func NewListedEvent(r *LockRecord) *types.Event {
	return newMarketEvent(EventTypeListed, r)
}

// NewSoldEvent returns the canonical event payload for a settled purchase.
// The price attribute carries the settlement amount, not the (already reset)
// record price.
func NewSoldEvent(r *LockRecord, buyer [20]byte, price *big.Int) *types.Event {
	evt := newMarketEvent(EventTypeSold, r)
	evt.Attributes["buyer"] = hex.EncodeToString(buyer[:])
	if price != nil {
		evt.Attributes["price"] = price.String()
	}
	return evt
}

func newMarketEvent(eventType string, r *LockRecord) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeLockRecord(r)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["owner"] = hex.EncodeToString(sanitized.Owner[:])
	attrs["asset"] = hex.EncodeToString(sanitized.Asset[:])
	attrs["vault"] = hex.EncodeToString(sanitized.VaultAddress[:])
	attrs["price"] = sanitized.Price.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
