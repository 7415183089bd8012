package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"musemarket/core/types"
	"musemarket/native/market"
	"musemarket/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestAccountRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := testAddr(0x01)

	fresh, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(0), fresh.Balance.Int64())

	require.NoError(t, manager.PutAccount(addr, &types.Account{Nonce: 7, Balance: big.NewInt(1234)}))

	loaded, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Equal(t, int64(1234), loaded.Balance.Int64())
}

func TestPutAccountRejectsNegativeBalance(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	err := manager.PutAccount(testAddr(0x01), &types.Account{Balance: big.NewInt(-1)})
	require.Error(t, err)
}

func TestLockRecordRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	owner := testAddr(0x01)
	asset := testAddr(0xA0)
	lockAddr, _, err := market.Derive(market.LockSeed, owner, asset)
	require.NoError(t, err)

	_, found, err := manager.LockGet(lockAddr)
	require.NoError(t, err)
	require.False(t, found)

	record := &market.LockRecord{
		Owner:        owner,
		Asset:        asset,
		Price:        big.NewInt(55),
		Bump:         2,
		VaultAddress: testAddr(0xB0),
		VaultBump:    1,
	}
	require.NoError(t, manager.LockPut(lockAddr, record))

	loaded, found, err := manager.LockGet(lockAddr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, record.Owner, loaded.Owner)
	require.Equal(t, record.Asset, loaded.Asset)
	require.Equal(t, 0, loaded.Price.Cmp(record.Price))
	require.Equal(t, record.Bump, loaded.Bump)
	require.Equal(t, record.VaultAddress, loaded.VaultAddress)
	require.Equal(t, record.VaultBump, loaded.VaultBump)
}

func TestVaultAuthorityRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	vault := testAddr(0xB0)
	authority := testAddr(0xC0)

	_, registered, err := manager.VaultAuthority(vault)
	require.NoError(t, err)
	require.False(t, registered)

	require.NoError(t, manager.VaultRegister(vault, authority))

	stored, registered, err := manager.VaultAuthority(vault)
	require.NoError(t, err)
	require.True(t, registered)
	require.Equal(t, authority, stored)
}

func TestAssetHolderRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	asset := testAddr(0xA0)
	holder := testAddr(0x01)

	_, found, err := manager.AssetHolder(asset)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, manager.SetAssetHolder(asset, holder))

	stored, found, err := manager.AssetHolder(asset)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, holder, stored)
}

func TestOverlayIsolatesBaseUntilCommit(t *testing.T) {
	base := storage.NewMemDB()
	overlay := NewOverlay(base)
	manager := NewManager(overlay)
	addr := testAddr(0x01)

	require.NoError(t, manager.PutAccount(addr, &types.Account{Balance: big.NewInt(500)}))

	baseView, err := NewManager(base).GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(0), baseView.Balance.Int64())

	staged, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(500), staged.Balance.Int64())

	require.NoError(t, overlay.Commit())

	committed, err := NewManager(base).GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(500), committed.Balance.Int64())
}

func TestOverlayDiscardDropsWrites(t *testing.T) {
	base := storage.NewMemDB()
	overlay := NewOverlay(base)
	manager := NewManager(overlay)
	addr := testAddr(0x01)

	require.NoError(t, manager.PutAccount(addr, &types.Account{Balance: big.NewInt(500)}))
	overlay.Discard()

	view, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(0), view.Balance.Int64())
}
