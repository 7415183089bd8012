package market

import (
	"errors"
	"testing"
)

func TestDeriveIsDeterministic(t *testing.T) {
	owner := newTestAddress(0x11)
	asset := newTestAddress(0x22)

	addr1, bump1, err := Derive(LockSeed, owner, asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	addr2, bump2, err := Derive(LockSeed, owner, asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if addr1 != addr2 || bump1 != bump2 {
		t.Fatalf("derivation not stable: (%x,%d) vs (%x,%d)", addr1, bump1, addr2, bump2)
	}
}

func TestDeriveSeparatesInputs(t *testing.T) {
	owner := newTestAddress(0x11)
	asset := newTestAddress(0x22)

	base, _, err := Derive(LockSeed, owner, asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	cases := map[string][20]byte{}

	otherTag, _, err := Derive(VaultSeed, owner, asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	cases["tag"] = otherTag

	otherOwner, _, err := Derive(LockSeed, newTestAddress(0x12), asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	cases["owner"] = otherOwner

	otherAsset, _, err := Derive(LockSeed, owner, newTestAddress(0x23))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	cases["asset"] = otherAsset

	for input, derived := range cases {
		if derived == base {
			t.Fatalf("changing %s must change the derived address", input)
		}
	}
}

func TestSignAsMatchesDerive(t *testing.T) {
	owner := newTestAddress(0x11)
	asset := newTestAddress(0x22)

	addr, bump, err := Derive(LockSeed, owner, asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	auth, err := SignAs(LockSeed, owner, asset, bump)
	if err != nil {
		t.Fatalf("sign as: %v", err)
	}
	if auth.Address() != addr {
		t.Fatalf("authority %x, want derived address %x", auth.Address(), addr)
	}
}

func TestSignAsWrongBumpChangesAddress(t *testing.T) {
	owner := newTestAddress(0x11)
	asset := newTestAddress(0x22)

	addr, bump, err := Derive(LockSeed, owner, asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	auth, err := SignAs(LockSeed, owner, asset, bump+1)
	if err != nil {
		// An on-curve candidate is also a valid rejection.
		if !errors.Is(err, ErrDerivationMismatch) {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if auth.Address() == addr {
		t.Fatal("different bump must not reconstruct the same authority")
	}
}

func TestDeriveBumpIsSmallestValid(t *testing.T) {
	owner := newTestAddress(0x11)
	asset := newTestAddress(0x22)

	_, bump, err := Derive(LockSeed, owner, asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	for lower := 0; lower < int(bump); lower++ {
		digest, _ := candidate(LockSeed, owner, asset, uint8(lower))
		if !liesOnCurve(digest) {
			t.Fatalf("bump %d valid but Derive chose %d", lower, bump)
		}
	}
}
