package market

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Seed tags namespace the two derived accounts a listing owns. The same tags
// are used at creation time to pick addresses and at signing time to
// reconstruct the vault authority.
const (
	// LockSeed derives the lock record address, which doubles as the
	// vault's custody authority.
	LockSeed = "owner"
	// VaultSeed derives the custody vault address.
	VaultSeed = "token"
)

var (
	curveP = ethcrypto.S256().Params().P
	curveB = big.NewInt(7)
)

// liesOnCurve reports whether the digest, read as a secp256k1 X coordinate,
// has a matching Y. Program addresses must be off-curve so that no key pair
// can ever sign for them directly.
func liesOnCurve(digest []byte) bool {
	x := new(big.Int).SetBytes(digest)
	if x.Cmp(curveP) >= 0 {
		return false
	}
	y2 := new(big.Int).Exp(x, big.NewInt(3), curveP)
	y2.Add(y2, curveB)
	y2.Mod(y2, curveP)
	return new(big.Int).ModSqrt(y2, curveP) != nil
}

func candidate(tag string, owner, asset [20]byte, bump uint8) ([]byte, [20]byte) {
	digest := ethcrypto.Keccak256([]byte(tag), owner[:], asset[:], []byte{bump})
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256(digest)[12:])
	return digest, addr
}

// Derive maps (tag, owner, asset) to a program address and the smallest bump
// that makes the derivation valid. The bump must be persisted by the caller:
// reconstructing the authority later with any other bump yields a different
// address and the host rejects the signature.
func Derive(tag string, owner, asset [20]byte) ([20]byte, uint8, error) {
	for bump := 0; bump <= 255; bump++ {
		digest, addr := candidate(tag, owner, asset, uint8(bump))
		if !liesOnCurve(digest) {
			return addr, uint8(bump), nil
		}
	}
	return [20]byte{}, 0, ErrDerivationExhausted
}

// Authority is the capability to sign for a derived account. It can only be
// constructed by code that knows the seed components and the persisted bump,
// which stands in for holding a private key.
type Authority struct {
	address [20]byte
}

// Address returns the derived address this authority signs for.
func (a Authority) Address() [20]byte { return a.address }

// SignAs reconstructs the signing authority for a derived account from its
// seeds and the persisted bump. It fails with ErrDerivationMismatch when the
// bump does not produce a valid derivation, which indicates corrupted state.
func SignAs(tag string, owner, asset [20]byte, bump uint8) (Authority, error) {
	digest, addr := candidate(tag, owner, asset, bump)
	if liesOnCurve(digest) {
		return Authority{}, ErrDerivationMismatch
	}
	return Authority{address: addr}, nil
}
