package market

import (
	"errors"
	"fmt"
	"math/big"
)

// Error taxonomy for the three marketplace operations. Authorization and
// state errors are fatal to the operation; the host's transaction semantics
// guarantee no partial effects survive a failure.
var (
	ErrAlreadyInitialized  = errors.New("market: listing already initialized")
	ErrListingNotFound     = errors.New("market: listing not found")
	ErrUnauthorized        = errors.New("market: caller is not the listing owner")
	ErrInvalidSeller       = errors.New("market: seller does not match listing owner")
	ErrNotListed           = errors.New("market: asset is not listed for sale")
	ErrVaultMismatch       = errors.New("market: vault is not bound to the listing")
	ErrInvalidPrice        = errors.New("market: price must be positive")
	ErrInsufficientFunds   = errors.New("market: insufficient balance")
	ErrAssetNotHeld        = errors.New("market: source does not hold the asset")
	ErrDerivationExhausted = errors.New("market: no valid bump in derivation range")
	ErrDerivationMismatch  = errors.New("market: bump does not reconstruct the vault authority")
)

// LockRecord is the durable listing metadata for one (owner, asset) pair. It
// lives at its own derived address, which is what enforces uniqueness: a
// second Initialize for the same pair derives the same address and collides.
//
// Owner, Asset and the vault binding are immutable after creation. Price is
// set by List and zeroed again by Buy so a sold listing reads as unlisted.
type LockRecord struct {
	Owner        [20]byte
	Asset        [20]byte
	Price        *big.Int
	Bump         uint8
	VaultAddress [20]byte
	VaultBump    uint8
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *LockRecord) Clone() *LockRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Listed reports whether the record currently advertises a positive price.
func (r *LockRecord) Listed() bool {
	return r != nil && r.Price != nil && r.Price.Sign() > 0
}

// SanitizeLockRecord validates and normalises a lock record, returning a
// cloned instance with a non-nil price. The original value is not mutated.
func SanitizeLockRecord(r *LockRecord) (*LockRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("nil lock record")
	}
	clone := r.Clone()
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("lock record price must be non-negative")
	}
	if clone.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("lock record owner must be set")
	}
	if clone.VaultAddress == ([20]byte{}) {
		return nil, fmt.Errorf("lock record vault binding must be set")
	}
	return clone, nil
}
