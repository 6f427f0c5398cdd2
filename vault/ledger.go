package vault

import (
	"math"

	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Account is a token account. Only Owner may move tokens out of it and it
// only holds tokens of Mint.
type Account struct {
	Key    sys.Key
	Mint   sys.Key
	Owner  sys.Key
	Amount uint64
}

// Ledger keeps token accounts in the store. It is the token transfer
// service the vault and the reserve move funds with.
type Ledger struct{}

// TokenAccountKey returns the key of the account of owner for mint.
func TokenAccountKey(owner, mint sys.Key) sys.Key {
	return sys.DeriveKey(sys.SeedToken, owner.Slice(), mint.Slice())
}

// Account returns the account stored under key.
func (l *Ledger) Account(tx *storage.Tx, key sys.Key) (*Account, error) {
	a := &Account{}
	err := tx.Get(storage.KindToken, key, a)
	if xerrors.Is(err, storage.ErrNotFound) {
		return nil, xerrors.Errorf("token account %s: %w", key.Short(), sys.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// OpenAccount creates an empty account.
func (l *Ledger) OpenAccount(tx *storage.Tx, key, mint, owner sys.Key) error {
	if tx.Has(storage.KindToken, key) {
		return xerrors.Errorf("token account %s: %w", key.Short(), sys.ErrAlreadyInitialized)
	}
	return tx.Put(storage.KindToken, key, &Account{Key: key, Mint: mint, Owner: owner})
}

// CloseAccount deletes an empty account.
func (l *Ledger) CloseAccount(tx *storage.Tx, key, authority sys.Key) error {
	a, err := l.Account(tx, key)
	if err != nil {
		return err
	}
	if a.Owner != authority {
		return xerrors.Errorf("closing %s: %w", key.Short(), sys.ErrInvalidAuthority)
	}
	if a.Amount != 0 {
		return xerrors.Errorf("closing %s holding %d: %w", key.Short(), a.Amount, sys.ErrInvalidStatus)
	}
	return tx.Delete(storage.KindToken, key)
}

// Balance returns the amount held by the account.
func (l *Ledger) Balance(tx *storage.Tx, key sys.Key) (uint64, error) {
	a, err := l.Account(tx, key)
	if err != nil {
		return 0, err
	}
	return a.Amount, nil
}

// Mint creates amount new tokens in the account.
func (l *Ledger) Mint(tx *storage.Tx, key sys.Key, amount uint64) error {
	a, err := l.Account(tx, key)
	if err != nil {
		return err
	}
	if a.Amount > math.MaxUint64-amount {
		return xerrors.Errorf("minting %d into %s: %w", amount, key.Short(), sys.ErrOverflow)
	}
	a.Amount += amount
	return tx.Put(storage.KindToken, key, a)
}

// Burn destroys amount tokens of the account.
func (l *Ledger) Burn(tx *storage.Tx, key sys.Key, amount uint64, authority sys.Key) error {
	a, err := l.Account(tx, key)
	if err != nil {
		return err
	}
	if a.Owner != authority {
		return xerrors.Errorf("burning from %s: %w", key.Short(), sys.ErrInvalidAuthority)
	}
	if a.Amount < amount {
		return xerrors.Errorf("burning %d from %s holding %d: %w",
			amount, key.Short(), a.Amount, sys.ErrInsufficientFunds)
	}
	a.Amount -= amount
	return tx.Put(storage.KindToken, key, a)
}

// Transfer moves amount tokens between two accounts of the same mint.
// authority has to own the source account.
func (l *Ledger) Transfer(tx *storage.Tx, from, to sys.Key, amount uint64, authority sys.Key) error {
	src, err := l.Account(tx, from)
	if err != nil {
		return err
	}
	dst, err := l.Account(tx, to)
	if err != nil {
		return err
	}
	if src.Owner != authority {
		return xerrors.Errorf("%s moving funds of %s: %w", authority.Short(), from.Short(), sys.ErrInvalidAuthority)
	}
	if src.Mint != dst.Mint {
		return xerrors.Errorf("transfer between mints %s and %s: %w",
			src.Mint.Short(), dst.Mint.Short(), sys.ErrInvalidAuthority)
	}
	if src.Amount < amount {
		return xerrors.Errorf("transferring %d from %s holding %d: %w",
			amount, from.Short(), src.Amount, sys.ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	if dst.Amount > math.MaxUint64-amount {
		return xerrors.Errorf("transferring %d to %s: %w", amount, to.Short(), sys.ErrOverflow)
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := tx.Put(storage.KindToken, from, src); err != nil {
		return err
	}
	log.Lvlf3("transfer %d: %s -> %s", amount, from.Short(), to.Short())
	return tx.Put(storage.KindToken, to, dst)
}
