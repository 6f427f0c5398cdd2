// Package vault holds the pooled entry fees of a round. The funds sit in a
// liquidity account owned by the round's vault signer and may be deployed
// into a lending reserve, in exchange for collateral held in a second
// account of the same signer. No participant can move funds out of either
// account: the coordinator does it on their behalf through the Adapter.
package vault

import (
	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"github.com/holiman/uint256"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// TokenTransfer moves tokens between accounts. Transfers are authorized by
// the owner of the source account.
type TokenTransfer interface {
	Transfer(tx *storage.Tx, from, to sys.Key, amount uint64, authority sys.Key) error
	Balance(tx *storage.Tx, account sys.Key) (uint64, error)
	OpenAccount(tx *storage.Tx, key, mint, owner sys.Key) error
	CloseAccount(tx *storage.Tx, key, authority sys.Key) error
}

// LendingReserve is the yield source the pool is deployed into.
type LendingReserve interface {
	Refresh(tx *storage.Tx, now int64) error
	Deposit(tx *storage.Tx, source, dest sys.Key, amount uint64, authority sys.Key) (uint64, error)
	Redeem(tx *storage.Tx, source, dest sys.Key, collateral uint64, authority sys.Key) (uint64, error)
	LiquidityMint(tx *storage.Tx) (sys.Key, error)
	CollateralMint(tx *storage.Tx) (sys.Key, error)
}

// Adapter operates the vault of one round.
type Adapter struct {
	Round      sys.Key
	Signer     sys.Key
	Liquidity  sys.Key
	Collateral sys.Key
	tokens     TokenTransfer
	reserve    LendingReserve
}

// NewAdapter returns the adapter of the vault of round. The account keys are
// derived from the round key.
func NewAdapter(round sys.Key, tokens TokenTransfer, reserve LendingReserve) *Adapter {
	signer := sys.DeriveKey(sys.SeedVaultSigner, round.Slice())
	return &Adapter{
		Round:      round,
		Signer:     signer,
		Liquidity:  sys.DeriveKey(sys.SeedLiquidity, round.Slice()),
		Collateral: sys.DeriveKey(sys.SeedCollateral, round.Slice()),
		tokens:     tokens,
		reserve:    reserve,
	}
}

// Open creates the two vault accounts.
func (a *Adapter) Open(tx *storage.Tx) error {
	lm, err := a.reserve.LiquidityMint(tx)
	if err != nil {
		return err
	}
	cm, err := a.reserve.CollateralMint(tx)
	if err != nil {
		return err
	}
	if err := a.tokens.OpenAccount(tx, a.Liquidity, lm, a.Signer); err != nil {
		return xerrors.Errorf("liquidity vault: %w", err)
	}
	if err := a.tokens.OpenAccount(tx, a.Collateral, cm, a.Signer); err != nil {
		return xerrors.Errorf("collateral vault: %w", err)
	}
	return nil
}

// Close deletes the two vault accounts. Both have to be empty.
func (a *Adapter) Close(tx *storage.Tx) error {
	if err := a.tokens.CloseAccount(tx, a.Liquidity, a.Signer); err != nil {
		return err
	}
	return a.tokens.CloseAccount(tx, a.Collateral, a.Signer)
}

// Deposit moves amount from the account of owner into the liquidity vault.
func (a *Adapter) Deposit(tx *storage.Tx, from, owner sys.Key, amount uint64) error {
	return a.tokens.Transfer(tx, from, a.Liquidity, amount, owner)
}

// Pay moves amount from the liquidity vault to the account to, under the
// vault signer.
func (a *Adapter) Pay(tx *storage.Tx, to sys.Key, amount uint64) error {
	return a.tokens.Transfer(tx, a.Liquidity, to, amount, a.Signer)
}

// LiquidityBalance returns the amount held by the liquidity vault.
func (a *Adapter) LiquidityBalance(tx *storage.Tx) (uint64, error) {
	return a.tokens.Balance(tx, a.Liquidity)
}

// CollateralBalance returns the amount held by the collateral vault.
func (a *Adapter) CollateralBalance(tx *storage.Tx) (uint64, error) {
	return a.tokens.Balance(tx, a.Collateral)
}

// Deploy refreshes the reserve and deposits amount of liquidity into it. An
// amount of 0 deploys the whole liquidity vault. It returns the collateral
// received.
func (a *Adapter) Deploy(tx *storage.Tx, amount uint64, now int64) (uint64, error) {
	if err := a.reserve.Refresh(tx, now); err != nil {
		return 0, xerrors.Errorf("refreshing reserve: %w", err)
	}
	if amount == 0 {
		var err error
		if amount, err = a.LiquidityBalance(tx); err != nil {
			return 0, err
		}
	}
	if amount == 0 {
		return 0, nil
	}
	collateral, err := a.reserve.Deposit(tx, a.Liquidity, a.Collateral, amount, a.Signer)
	if err != nil {
		return 0, xerrors.Errorf("deploying %d: %w", amount, err)
	}
	log.Lvlf2("vault %s: deployed %d for %d collateral", a.Round.Short(), amount, collateral)
	return collateral, nil
}

// Undeploy refreshes the reserve and redeems collateral back into the
// liquidity vault. A collateral of 0 redeems the whole collateral vault. It
// returns the liquidity received.
func (a *Adapter) Undeploy(tx *storage.Tx, collateral uint64, now int64) (uint64, error) {
	if err := a.reserve.Refresh(tx, now); err != nil {
		return 0, xerrors.Errorf("refreshing reserve: %w", err)
	}
	if collateral == 0 {
		var err error
		if collateral, err = a.CollateralBalance(tx); err != nil {
			return 0, err
		}
	}
	if collateral == 0 {
		return 0, nil
	}
	liquidity, err := a.reserve.Redeem(tx, a.Collateral, a.Liquidity, collateral, a.Signer)
	if err != nil {
		return 0, xerrors.Errorf("undeploying %d: %w", collateral, err)
	}
	log.Lvlf2("vault %s: redeemed %d collateral for %d", a.Round.Short(), collateral, liquidity)
	return liquidity, nil
}

// WinnerPayout returns what is left of balance once the principal of the other
// participants is set aside.
func WinnerPayout(balance, fee, others uint64) (uint64, error) {
	owed, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(fee), uint256.NewInt(others))
	if overflow || !owed.IsUint64() {
		return 0, xerrors.Errorf("%d x %d: %w", fee, others, sys.ErrOverflow)
	}
	payout, underflow := new(uint256.Int).SubOverflow(uint256.NewInt(balance), owed)
	if underflow {
		return 0, xerrors.Errorf("balance %d below the %d owed: %w", balance, owed.Uint64(), sys.ErrInsufficientFunds)
	}
	return payout.Uint64(), nil
}
