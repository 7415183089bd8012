package crypto

import (
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(MusePrefix)) {
		t.Fatalf("expected %q prefix, got %q", MusePrefix, encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if string(decoded.Bytes()) != string(addr.Bytes()) {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Bytes(), addr.Bytes())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-a-bech32-address"); err == nil {
		t.Fatal("expected decode error for malformed input")
	}
}

func TestSignDigestRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := ethcrypto.Keccak256([]byte("market_list payload"))
	sig, err := key.SignDigest(digest)
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	var want [20]byte
	copy(want[:], key.PubKey().Address().Bytes())
	if recovered != want {
		t.Fatalf("recovered %x, want %x", recovered, want)
	}

	other := ethcrypto.Keccak256([]byte("tampered payload"))
	mismatched, err := RecoverAddress(other, sig)
	if err == nil && mismatched == want {
		t.Fatal("tampered digest must not recover the original signer")
	}
}
