package market

import (
	"errors"
	"math/big"

	"musemarket/core/events"
	"musemarket/core/types"
)

var errNilState = errors.New("market engine: state not configured")

// engineState is the slice of ledger state the engine reads and mutates. The
// host serialises conflicting operations, so the engine never locks; it only
// declares its footprint through this interface.
type engineState interface {
	LockGet(addr [20]byte) (*LockRecord, bool, error)
	LockPut(addr [20]byte, record *LockRecord) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	VaultRegister(vault, authority [20]byte) error
	VaultAuthority(vault [20]byte) ([20]byte, bool, error)
	AssetHolder(asset [20]byte) ([20]byte, bool, error)
	SetAssetHolder(asset, holder [20]byte) error
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine wires the marketplace state machine with external state and event
// emitters. Each operation is a single run-to-completion unit; the caller
// provides all-or-nothing semantics by executing it inside a staged overlay.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

// LockAddress returns the derived lock record address for an (owner, asset)
// pair. It is the only way listings are addressed; callers never supply
// free-form record addresses.
func LockAddress(owner, asset [20]byte) ([20]byte, error) {
	addr, _, err := Derive(LockSeed, owner, asset)
	return addr, err
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// transferPayment moves amount from one account balance to another with an
// explicit shortfall check; balances never wrap.
func (e *Engine) transferPayment(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidPrice
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// moveAsset reassigns custody of the single asset unit. When the source is a
// registered vault the caller must present the authority reconstructed from
// the persisted bump; that capability is the only way funds leave a vault.
func (e *Engine) moveAsset(asset, from, to [20]byte, auth *Authority) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	holder, ok, err := e.state.AssetHolder(asset)
	if err != nil {
		return err
	}
	if !ok || holder != from {
		return ErrAssetNotHeld
	}
	custodian, custodial, err := e.state.VaultAuthority(from)
	if err != nil {
		return err
	}
	if custodial {
		if auth == nil || auth.Address() != custodian {
			return ErrUnauthorized
		}
	}
	return e.state.SetAssetHolder(asset, to)
}

// Initialize creates the lock record and custody vault for an (owner, asset)
// pair and binds them together. The vault's custody authority is the lock
// record's own derived address, so only operations that can reconstruct the
// record's seeds may later move the escrowed unit. No transfers occur.
func (e *Engine) Initialize(owner, asset [20]byte) (*LockRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lockAddr, lockBump, err := Derive(LockSeed, owner, asset)
	if err != nil {
		return nil, err
	}
	vaultAddr, vaultBump, err := Derive(VaultSeed, owner, asset)
	if err != nil {
		return nil, err
	}
	if _, exists, err := e.state.LockGet(lockAddr); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAlreadyInitialized
	}
	record := &LockRecord{
		Owner:        owner,
		Asset:        asset,
		Price:        big.NewInt(0),
		Bump:         lockBump,
		VaultAddress: vaultAddr,
		VaultBump:    vaultBump,
	}
	if err := e.state.VaultRegister(vaultAddr, lockAddr); err != nil {
		return nil, err
	}
	if err := e.state.LockPut(lockAddr, record); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(record))
	return record.Clone(), nil
}

// List escrows the owner's asset unit into the vault and records the asking
// price. The caller address must be the signature-verified listing owner.
func (e *Engine) List(caller [20]byte, lockAddr, vault [20]byte, price *big.Int) (*LockRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.LockGet(lockAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	if record.Owner != caller {
		return nil, ErrUnauthorized
	}
	if record.VaultAddress != vault {
		return nil, ErrVaultMismatch
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if err := e.moveAsset(record.Asset, caller, vault, nil); err != nil {
		return nil, err
	}
	record.Price = new(big.Int).Set(price)
	if err := e.state.LockPut(lockAddr, record); err != nil {
		return nil, err
	}
	e.emit(NewListedEvent(record))
	return record.Clone(), nil
}

// Buy settles a listing: the buyer pays the seller directly and the escrowed
// unit is released from the vault to the destination under the reconstructed
// vault authority. When buyer == seller the payment leg is skipped entirely
// but custody is still released, which is how an owner reclaims a listed
// asset without a separate cancel operation.
//
// The price is zeroed after settlement so observers never read a stale
// asking price; a second Buy against the emptied vault fails with
// ErrNotListed instead of double-transferring.
func (e *Engine) Buy(buyer, seller [20]byte, lockAddr, vault, destination [20]byte) (*LockRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.LockGet(lockAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	if record.Owner != seller {
		return nil, ErrInvalidSeller
	}
	if record.VaultAddress != vault {
		return nil, ErrVaultMismatch
	}
	if !record.Listed() {
		return nil, ErrNotListed
	}
	price := cloneBigInt(record.Price)
	if buyer != seller {
		if err := e.transferPayment(buyer, seller, price); err != nil {
			return nil, err
		}
	}
	auth, err := SignAs(LockSeed, record.Owner, record.Asset, record.Bump)
	if err != nil {
		return nil, err
	}
	if auth.Address() != lockAddr {
		return nil, ErrDerivationMismatch
	}
	if err := e.moveAsset(record.Asset, vault, destination, &auth); err != nil {
		return nil, err
	}
	record.Price = big.NewInt(0)
	if err := e.state.LockPut(lockAddr, record); err != nil {
		return nil, err
	}
	e.emit(NewSoldEvent(record, buyer, price))
	return record.Clone(), nil
}
