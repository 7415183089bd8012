package core

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Operation digests bind every request parameter plus the signer's account
// nonce into the payload the co-signer must sign. Tampering with any field or
// replaying a consumed nonce changes or invalidates the digest.
const (
	initializeDomain = "musemarket/initialize"
	listDomain       = "musemarket/list"
	buyDomain        = "musemarket/buy"
)

func nonceBytes(nonce uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	return buf
}

func priceBytes(price *big.Int) []byte {
	if price == nil {
		return []byte{}
	}
	return price.Bytes()
}

// InitializeDigest is the payload signed by the owner of a new listing.
func InitializeDigest(owner, asset [20]byte, nonce uint64) []byte {
	return ethcrypto.Keccak256([]byte(initializeDomain), owner[:], asset[:], nonceBytes(nonce))
}

// ListDigest is the payload signed by the owner to escrow and price an asset.
func ListDigest(owner, asset, vault [20]byte, price *big.Int, nonce uint64) []byte {
	return ethcrypto.Keccak256([]byte(listDomain), owner[:], asset[:], vault[:], priceBytes(price), nonceBytes(nonce))
}

// BuyDigest is the payload signed by the buyer to settle a listing.
func BuyDigest(buyer, seller, asset, vault, destination [20]byte, nonce uint64) []byte {
	return ethcrypto.Keccak256([]byte(buyDomain), buyer[:], seller[:], asset[:], vault[:], destination[:], nonceBytes(nonce))
}
