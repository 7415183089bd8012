package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignDigest produces a 65-byte recoverable signature over a 32-byte keccak
// digest. Operation requests are signed this way by the co-signing party and
// recovered at the RPC boundary.
func (k *PrivateKey) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, k.PrivateKey)
}

// RecoverAddress returns the 20-byte address of the key that produced the
// signature over the digest.
func RecoverAddress(digest, sig []byte) ([20]byte, error) {
	var addr [20]byte
	if len(digest) != 32 {
		return addr, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	if len(sig) != 65 {
		return addr, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return addr, fmt.Errorf("recover signer: %w", err)
	}
	copy(addr[:], crypto.PubkeyToAddress(*pubKey).Bytes())
	return addr, nil
}
