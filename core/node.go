package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"musemarket/core/events"
	"musemarket/core/state"
	"musemarket/core/types"
	"musemarket/crypto"
	"musemarket/native/market"
	"musemarket/storage"
)

var (
	// ErrInvalidNonce is returned when a signed request carries a nonce that
	// does not match the signer's account nonce. It is the node's replay
	// guard: every committed operation consumes exactly one nonce.
	ErrInvalidNonce = errors.New("core: request nonce does not match account nonce")
	// ErrInvalidSignature is returned when the request signature cannot be
	// recovered at all, as opposed to recovering the wrong signer.
	ErrInvalidSignature = errors.New("core: malformed request signature")
)

const recentEventLimit = 256

// Node owns the marketplace state and serialises every operation. Each
// operation runs against a staged overlay that is committed only on success,
// which gives the three operations their all-or-nothing semantics.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	recent []events.Event
}

// NewNode creates a node on top of the provided database.
func NewNode(db storage.Database) *Node {
	return &Node{db: db}
}

// withOverlay runs fn against a staged state overlay and commits the overlay
// only when fn succeeds. Events emitted by a failed operation are dropped
// along with its writes.
func (n *Node) withOverlay(fn func(*market.Engine, *state.Manager) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	overlay := state.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	collector := &events.Collector{}
	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(collector)

	if err := fn(engine, manager); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	n.recent = append(n.recent, collector.Drain()...)
	if len(n.recent) > recentEventLimit {
		n.recent = n.recent[len(n.recent)-recentEventLimit:]
	}
	return nil
}

// consumeNonce validates the request nonce against the signer's account and
// advances it. Runs inside the overlay so a failed operation leaves the
// nonce untouched.
func consumeNonce(manager *state.Manager, signer [20]byte, nonce uint64) error {
	account, err := manager.GetAccount(signer)
	if err != nil {
		return err
	}
	if account.Nonce != nonce {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidNonce, nonce, account.Nonce)
	}
	account.Nonce++
	return manager.PutAccount(signer, account)
}

func recoverSigner(digest, sig []byte) ([20]byte, error) {
	signer, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return signer, nil
}

// MarketInitialize creates the lock record and vault for (owner, asset). The
// request must be signed by the owner.
func (n *Node) MarketInitialize(owner, asset [20]byte, nonce uint64, sig []byte) (*market.LockRecord, error) {
	signer, err := recoverSigner(InitializeDigest(owner, asset, nonce), sig)
	if err != nil {
		return nil, err
	}
	if signer != owner {
		return nil, market.ErrUnauthorized
	}
	var record *market.LockRecord
	err = n.withOverlay(func(engine *market.Engine, manager *state.Manager) error {
		if err := consumeNonce(manager, owner, nonce); err != nil {
			return err
		}
		created, err := engine.Initialize(owner, asset)
		if err != nil {
			return err
		}
		record = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// MarketList escrows the owner's asset into the vault and records the asking
// price. The request must be signed by the owner; the vault address is
// caller-supplied only for validation against the record's binding.
func (n *Node) MarketList(owner, asset, vault [20]byte, price *big.Int, nonce uint64, sig []byte) (*market.LockRecord, error) {
	signer, err := recoverSigner(ListDigest(owner, asset, vault, price, nonce), sig)
	if err != nil {
		return nil, err
	}
	if signer != owner {
		return nil, market.ErrUnauthorized
	}
	lockAddr, err := market.LockAddress(owner, asset)
	if err != nil {
		return nil, err
	}
	var record *market.LockRecord
	err = n.withOverlay(func(engine *market.Engine, manager *state.Manager) error {
		if err := consumeNonce(manager, owner, nonce); err != nil {
			return err
		}
		listed, err := engine.List(signer, lockAddr, vault, price)
		if err != nil {
			return err
		}
		record = listed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// MarketBuy settles a listing. The request must be signed by the buyer; the
// seller identity is supplied for validation against the record's owner.
func (n *Node) MarketBuy(buyer, seller, asset, vault, destination [20]byte, nonce uint64, sig []byte) (*market.LockRecord, error) {
	signer, err := recoverSigner(BuyDigest(buyer, seller, asset, vault, destination, nonce), sig)
	if err != nil {
		return nil, err
	}
	if signer != buyer {
		return nil, market.ErrUnauthorized
	}
	lockAddr, err := market.LockAddress(seller, asset)
	if err != nil {
		return nil, err
	}
	var record *market.LockRecord
	err = n.withOverlay(func(engine *market.Engine, manager *state.Manager) error {
		if err := consumeNonce(manager, buyer, nonce); err != nil {
			return err
		}
		settled, err := engine.Buy(buyer, seller, lockAddr, vault, destination)
		if err != nil {
			return err
		}
		record = settled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// MarketGet loads the lock record for (owner, asset).
func (n *Node) MarketGet(owner, asset [20]byte) (*market.LockRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	lockAddr, err := market.LockAddress(owner, asset)
	if err != nil {
		return nil, err
	}
	record, found, err := state.NewManager(n.db).LockGet(lockAddr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, market.ErrListingNotFound
	}
	return record, nil
}

// GetAccount returns the account stored at addr; missing accounts read as
// zero-balance accounts.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return state.NewManager(n.db).GetAccount(addr)
}

// AssetHolderOf returns the current holder of the asset unit.
func (n *Node) AssetHolderOf(asset [20]byte) ([20]byte, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return state.NewManager(n.db).AssetHolder(asset)
}

// Mint credits a payment balance outside the signed-operation flow. It exists
// for genesis allocations and tests; there is no mint operation on the wire.
func (n *Node) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("mint amount must be non-negative")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	manager := state.NewManager(n.db)
	account, err := manager.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return manager.PutAccount(addr, account)
}

// MintAsset assigns initial custody of an asset unit. Genesis/test helper,
// mirrors Mint for the non-fungible side.
func (n *Node) MintAsset(asset, holder [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return state.NewManager(n.db).SetAssetHolder(asset, holder)
}

// Events returns a snapshot of recently committed marketplace events.
func (n *Node) Events() []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := make([]events.Event, len(n.recent))
	copy(snapshot, n.recent)
	return snapshot
}
