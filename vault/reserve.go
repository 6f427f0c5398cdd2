package vault

import (
	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"github.com/holiman/uint256"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ReserveState is the stored state of a lending reserve. The liquidity the
// reserve holds sits in the Supply account; CollateralSupply is the number
// of collateral tokens in circulation. Their ratio is the exchange rate.
type ReserveState struct {
	Key              sys.Key
	LiquidityMint    sys.Key
	CollateralMint   sys.Key
	Supply           sys.Key
	CollateralSupply uint64
	RateBps          uint64
	Period           int64
	LastUpdate       int64
}

// Reserve is a lending reserve paying a fixed interest on its supply. It
// stands in for the external lending protocol: borrowers are not modelled,
// the interest is minted into the supply on every refresh.
type Reserve struct {
	Key    sys.Key
	Ledger *Ledger
}

// NewReserve creates the reserve key for liquidityMint. Every elapsed period
// grows the supply by rateBps basis points.
func NewReserve(tx *storage.Tx, l *Ledger, key, liquidityMint sys.Key, rateBps uint64, period, now int64) (*Reserve, error) {
	if period <= 0 {
		return nil, xerrors.New("reserve period must be positive")
	}
	if tx.Has(storage.KindReserve, key) {
		return nil, xerrors.Errorf("reserve %s: %w", key.Short(), sys.ErrAlreadyInitialized)
	}
	st := &ReserveState{
		Key:            key,
		LiquidityMint:  liquidityMint,
		CollateralMint: sys.DeriveKey(sys.SeedReserve, key.Slice(), []byte("collateral_mint")),
		Supply:         sys.DeriveKey(sys.SeedReserve, key.Slice(), []byte("liquidity_supply")),
		RateBps:        rateBps,
		Period:         period,
		LastUpdate:     now,
	}
	if err := l.OpenAccount(tx, st.Supply, liquidityMint, key); err != nil {
		return nil, err
	}
	if err := tx.Put(storage.KindReserve, key, st); err != nil {
		return nil, err
	}
	return &Reserve{Key: key, Ledger: l}, nil
}

// State returns the stored reserve state.
func (r *Reserve) State(tx *storage.Tx) (*ReserveState, error) {
	st := &ReserveState{}
	if err := tx.Get(storage.KindReserve, r.Key, st); err != nil {
		return nil, xerrors.Errorf("reserve %s: %v", r.Key.Short(), err)
	}
	return st, nil
}

func (r *Reserve) LiquidityMint(tx *storage.Tx) (sys.Key, error) {
	st, err := r.State(tx)
	if err != nil {
		return sys.Key{}, err
	}
	return st.LiquidityMint, nil
}

func (r *Reserve) CollateralMint(tx *storage.Tx) (sys.Key, error) {
	st, err := r.State(tx)
	if err != nil {
		return sys.Key{}, err
	}
	return st.CollateralMint, nil
}

// Refresh accrues the interest of every period elapsed since the last
// refresh.
func (r *Reserve) Refresh(tx *storage.Tx, now int64) error {
	st, err := r.State(tx)
	if err != nil {
		return err
	}
	if now <= st.LastUpdate {
		return nil
	}
	periods := uint64((now - st.LastUpdate) / st.Period)
	if periods == 0 {
		return nil
	}
	supply, err := r.Ledger.Balance(tx, st.Supply)
	if err != nil {
		return err
	}
	rate, err := mulDiv(st.RateBps, periods, 1)
	if err != nil {
		return err
	}
	interest, err := mulDiv(supply, rate, 10000)
	if err != nil {
		return err
	}
	if interest > 0 {
		if err := r.Ledger.Mint(tx, st.Supply, interest); err != nil {
			return err
		}
	}
	st.LastUpdate += int64(periods) * st.Period
	log.Lvlf3("reserve %s: %d periods, %d interest on %d", r.Key.Short(), periods, interest, supply)
	return tx.Put(storage.KindReserve, r.Key, st)
}

// Deposit moves amount liquidity from source into the reserve and mints the
// matching collateral into dest. It returns the collateral minted.
func (r *Reserve) Deposit(tx *storage.Tx, source, dest sys.Key, amount uint64, authority sys.Key) (uint64, error) {
	st, err := r.State(tx)
	if err != nil {
		return 0, err
	}
	supply, err := r.Ledger.Balance(tx, st.Supply)
	if err != nil {
		return 0, err
	}
	collateral := amount
	if st.CollateralSupply > 0 && supply > 0 {
		collateral, err = mulDiv(amount, st.CollateralSupply, supply)
		if err != nil {
			return 0, err
		}
	}
	dst, err := r.Ledger.Account(tx, dest)
	if err != nil {
		return 0, err
	}
	if dst.Mint != st.CollateralMint {
		return 0, xerrors.Errorf("%s does not hold collateral of %s: %w",
			dest.Short(), r.Key.Short(), sys.ErrInvalidAuthority)
	}
	if err := r.Ledger.Transfer(tx, source, st.Supply, amount, authority); err != nil {
		return 0, err
	}
	if err := r.Ledger.Mint(tx, dest, collateral); err != nil {
		return 0, err
	}
	st.CollateralSupply += collateral
	return collateral, tx.Put(storage.KindReserve, r.Key, st)
}

// Redeem burns collateral from source and releases the matching liquidity
// into dest. It returns the liquidity released.
func (r *Reserve) Redeem(tx *storage.Tx, source, dest sys.Key, collateral uint64, authority sys.Key) (uint64, error) {
	st, err := r.State(tx)
	if err != nil {
		return 0, err
	}
	src, err := r.Ledger.Account(tx, source)
	if err != nil {
		return 0, err
	}
	if src.Mint != st.CollateralMint {
		return 0, xerrors.Errorf("%s does not hold collateral of %s: %w",
			source.Short(), r.Key.Short(), sys.ErrInvalidAuthority)
	}
	if collateral > st.CollateralSupply {
		return 0, xerrors.Errorf("redeeming %d of %d: %w", collateral, st.CollateralSupply, sys.ErrInsufficientFunds)
	}
	supply, err := r.Ledger.Balance(tx, st.Supply)
	if err != nil {
		return 0, err
	}
	liquidity, err := mulDiv(collateral, supply, st.CollateralSupply)
	if err != nil {
		return 0, err
	}
	if err := r.Ledger.Burn(tx, source, collateral, authority); err != nil {
		return 0, err
	}
	if err := r.Ledger.Transfer(tx, st.Supply, dest, liquidity, r.Key); err != nil {
		return 0, err
	}
	st.CollateralSupply -= collateral
	return liquidity, tx.Put(storage.KindReserve, r.Key, st)
}

// mulDiv returns a*b/c rounded down, failing when the result does not fit
// 64 bits.
func mulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, xerrors.Errorf("division by zero: %w", sys.ErrOverflow)
	}
	x := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	x.Div(x, uint256.NewInt(c))
	if !x.IsUint64() {
		return 0, xerrors.Errorf("%d*%d/%d: %w", a, b, c, sys.ErrOverflow)
	}
	return x.Uint64(), nil
}
