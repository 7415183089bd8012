package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"musemarket/core/types"
	"musemarket/native/market"
)

// KV is the slice of the storage interface the manager needs. Both the raw
// database and a staged overlay satisfy it.
type KV interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
}

// Manager reads and writes marketplace state through a key-value store. Keys
// are prefixed per record family and keccak-hashed; values are RLP encoded.
// Every record family is addressed by a deterministic derivation, never by a
// caller-supplied free-form key.
type Manager struct {
	kv KV
}

// NewManager creates a state manager operating on the provided store.
func NewManager(kv KV) *Manager {
	return &Manager{kv: kv}
}

var (
	accountPrefix = []byte("account:")
	lockPrefix    = []byte("market/lock:")
	vaultPrefix   = []byte("market/vault:")
	holderPrefix  = []byte("asset/holder:")
)

func prefixedKey(prefix []byte, addr [20]byte) []byte {
	buf := make([]byte, len(prefix)+len(addr))
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

// rlpAccount is the persisted layout of an account: fields in declaration
// order, no versioning. A format change requires a new record family.
type rlpAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// rlpLockRecord is the persisted layout of a listing's lock record.
type rlpLockRecord struct {
	Owner        [20]byte
	Asset        [20]byte
	Price        *big.Int
	Bump         uint8
	VaultAddress [20]byte
	VaultBump    uint8
}

// GetAccount loads the account stored at addr. Missing accounts materialise
// as zero-balance accounts so callers never handle a not-found case.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	key := prefixedKey(accountPrefix, addr)
	exists, err := m.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	data, err := m.kv.Get(key)
	if err != nil {
		return nil, err
	}
	stored := new(rlpAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("decode account %x: %w", addr, err)
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: balance}, nil
}

// PutAccount persists the account at addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	encoded, err := rlp.EncodeToBytes(&rlpAccount{Nonce: account.Nonce, Balance: balance})
	if err != nil {
		return err
	}
	return m.kv.Put(prefixedKey(accountPrefix, addr), encoded)
}

// LockGet loads the lock record stored at its derived address.
func (m *Manager) LockGet(addr [20]byte) (*market.LockRecord, bool, error) {
	key := prefixedKey(lockPrefix, addr)
	exists, err := m.kv.Has(key)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	data, err := m.kv.Get(key)
	if err != nil {
		return nil, false, err
	}
	stored := new(rlpLockRecord)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("decode lock record %x: %w", addr, err)
	}
	record := &market.LockRecord{
		Owner:        stored.Owner,
		Asset:        stored.Asset,
		Price:        stored.Price,
		Bump:         stored.Bump,
		VaultAddress: stored.VaultAddress,
		VaultBump:    stored.VaultBump,
	}
	sanitized, err := market.SanitizeLockRecord(record)
	if err != nil {
		return nil, false, fmt.Errorf("lock record %x: %w", addr, err)
	}
	return sanitized, true, nil
}

// LockPut persists the lock record at its derived address.
func (m *Manager) LockPut(addr [20]byte, record *market.LockRecord) error {
	sanitized, err := market.SanitizeLockRecord(record)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&rlpLockRecord{
		Owner:        sanitized.Owner,
		Asset:        sanitized.Asset,
		Price:        sanitized.Price,
		Bump:         sanitized.Bump,
		VaultAddress: sanitized.VaultAddress,
		VaultBump:    sanitized.VaultBump,
	})
	if err != nil {
		return err
	}
	return m.kv.Put(prefixedKey(lockPrefix, addr), encoded)
}

// VaultRegister records the custody authority for a vault address. Only the
// holder of that authority may move assets out of the vault.
func (m *Manager) VaultRegister(vault, authority [20]byte) error {
	encoded, err := rlp.EncodeToBytes(authority[:])
	if err != nil {
		return err
	}
	return m.kv.Put(prefixedKey(vaultPrefix, vault), encoded)
}

// VaultAuthority returns the registered custody authority for a vault. The
// boolean reports whether the address is a registered vault at all.
func (m *Manager) VaultAuthority(vault [20]byte) ([20]byte, bool, error) {
	var authority [20]byte
	key := prefixedKey(vaultPrefix, vault)
	exists, err := m.kv.Has(key)
	if err != nil || !exists {
		return authority, false, err
	}
	data, err := m.kv.Get(key)
	if err != nil {
		return authority, false, err
	}
	var raw []byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return authority, false, fmt.Errorf("decode vault authority %x: %w", vault, err)
	}
	if len(raw) != 20 {
		return authority, false, fmt.Errorf("vault authority %x has invalid length %d", vault, len(raw))
	}
	copy(authority[:], raw)
	return authority, true, nil
}

// AssetHolder returns the current holder of the single asset unit.
func (m *Manager) AssetHolder(asset [20]byte) ([20]byte, bool, error) {
	var holder [20]byte
	key := prefixedKey(holderPrefix, asset)
	exists, err := m.kv.Has(key)
	if err != nil || !exists {
		return holder, false, err
	}
	data, err := m.kv.Get(key)
	if err != nil {
		return holder, false, err
	}
	var raw []byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return holder, false, fmt.Errorf("decode asset holder %x: %w", asset, err)
	}
	if len(raw) != 20 {
		return holder, false, fmt.Errorf("asset holder %x has invalid length %d", asset, len(raw))
	}
	copy(holder[:], raw)
	return holder, true, nil
}

// SetAssetHolder reassigns custody of the asset unit. The quantity is always
// exactly one; holdings are an index from asset to holder, not a balance.
func (m *Manager) SetAssetHolder(asset, holder [20]byte) error {
	encoded, err := rlp.EncodeToBytes(holder[:])
	if err != nil {
		return err
	}
	return m.kv.Put(prefixedKey(holderPrefix, asset), encoded)
}
