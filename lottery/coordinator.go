// Package lottery runs no-loss lottery rounds. Participants pay a fixed
// entry fee into the vault of a round, the pooled fees may be lent out for
// yield, a random draw picks one winner and at settlement everybody gets the
// fee back while the winner also takes the yield.
//
// A round goes through these steps:
//
//	InitializeRound   the authority creates the round, its vault and its
//	                  randomness client
//	Enter, Leave      participants join and withdraw until the round is full
//	Deploy, Undeploy  the authority lends the vault out and takes it back
//	RequestRandomness the authority asks the oracle for a draw
//	UpdateResult      the oracle output is consumed by the client
//	ChooseWinner      the output picks the winner, once
//	Settle            every participant is paid out and removed
//	Close             the drained round is deleted
package lottery

import (
	"sync"
	"time"

	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"github.com/dedis/noloss/vault"
	"github.com/dedis/noloss/vrf"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Coordinator sequences the operations of every round it stores. Operations
// run one at a time, each in its own storage transaction: an operation that
// fails leaves no trace, neither in the rounds nor in the token accounts.
// Notifications and metrics of an operation are only published once it
// committed.
type Coordinator struct {
	sync.Mutex
	store    *storage.Store
	tokens   vault.TokenTransfer
	reserve  vault.LendingReserve
	oracle   vrf.Oracle
	notifier vrf.Notifier
	metrics  *Metrics
	now      func() int64
}

// NewCoordinator returns a coordinator over store. The oracle may be set
// later with SetOracle when it needs the coordinator to deliver its outputs.
func NewCoordinator(store *storage.Store, tokens vault.TokenTransfer, reserve vault.LendingReserve,
	oracle vrf.Oracle, n vrf.Notifier) *Coordinator {
	if n == nil {
		n = vrf.LogNotifier{}
	}
	return &Coordinator{
		store:    store,
		tokens:   tokens,
		reserve:  reserve,
		oracle:   oracle,
		notifier: n,
		metrics:  NewMetrics(),
		now:      func() int64 { return time.Now().Unix() },
	}
}

func (c *Coordinator) SetOracle(o vrf.Oracle) {
	c.Lock()
	defer c.Unlock()
	c.oracle = o
}

// SetClock replaces the source of the timestamps.
func (c *Coordinator) SetClock(now func() int64) {
	c.Lock()
	defer c.Unlock()
	c.now = now
}

func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// update runs fn as one operation.
func (c *Coordinator) update(op string, fn func(tx *storage.Tx, now int64, n vrf.Notifier) error) error {
	c.Lock()
	defer c.Unlock()
	buf := &vrf.Buffer{}
	err := c.store.Update(func(tx *storage.Tx) error {
		return fn(tx, c.now(), buf)
	})
	if err != nil {
		kind := "internal"
		var e *sys.Error
		if xerrors.As(err, &e) {
			kind = e.Kind().String()
		}
		c.metrics.failed(op, kind)
		log.Lvlf2("%s aborted: %v", op, err)
		return err
	}
	buf.Flush(c.notifier)
	c.metrics.committed(op)
	return nil
}

func (c *Coordinator) adapter(round sys.Key) *vault.Adapter {
	return vault.NewAdapter(round, c.tokens, c.reserve)
}

// RegisterOracle stores the account an oracle writes its outputs to.
func (c *Coordinator) RegisterOracle(acct *vrf.OracleAccount) error {
	return c.update(opRegisterOracle, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		return vrf.RegisterOracleAccount(tx, acct)
	})
}

// InitializeRound creates the round called name of authority, open and
// empty, together with its vault and the randomness client drawing for it
// from oracleKey. The client draws in [0, maxParticipants).
func (c *Coordinator) InitializeRound(authority sys.Key, name string, oracleKey sys.Key,
	entryFee, maxParticipants uint64) (*Round, error) {
	return c.initializeRound(opInitialize, nil, authority, name, oracleKey, entryFee, maxParticipants)
}

// OpenRound registers the oracle account acct and initializes the round
// drawing from it in a single operation.
func (c *Coordinator) OpenRound(acct *vrf.OracleAccount, authority sys.Key, name string,
	entryFee, maxParticipants uint64) (*Round, error) {
	return c.initializeRound(opOpenRound, acct, authority, name, acct.Key, entryFee, maxParticipants)
}

func (c *Coordinator) initializeRound(op string, acct *vrf.OracleAccount, authority sys.Key, name string,
	oracleKey sys.Key, entryFee, maxParticipants uint64) (*Round, error) {
	if authority.IsZero() {
		return nil, xerrors.Errorf("round %q without authority: %w", name, sys.ErrInvalidAuthority)
	}
	if maxParticipants > vrf.MaxResult {
		return nil, xerrors.Errorf("capacity %d: %w", maxParticipants, sys.ErrMaxResultExceedsMaximum)
	}
	r := &Round{
		Key:             RoundKey(authority, name),
		Name:            name,
		Authority:       authority,
		Oracle:          oracleKey,
		EntryFee:        entryFee,
		MaxParticipants: maxParticipants,
		Status:          StatusOpen,
	}
	r.Participants.Max = maxParticipants
	err := c.update(op, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		if tx.Has(storage.KindRound, r.Key) {
			return xerrors.Errorf("round %s: %w", r.Key.Short(), sys.ErrAlreadyInitialized)
		}
		if acct != nil {
			if err := vrf.RegisterOracleAccount(tx, acct); err != nil {
				return err
			}
		}
		client, err := vrf.Initialize(tx, oracleKey, authority, r.Key, maxParticipants, now)
		if err != nil {
			return err
		}
		if err := c.adapter(r.Key).Open(tx); err != nil {
			return err
		}
		r.Client = client.Key
		r.Created = now
		return r.store(tx)
	})
	if err != nil {
		return nil, err
	}
	c.metrics.openRounds.Inc()
	log.Lvlf2("round %s %q: fee %d, %d places", r.Key.Short(), name, entryFee, maxParticipants)
	return r, nil
}

// Enter pays the entry fee from the account source of participant into the
// vault and enrolls participant.
func (c *Coordinator) Enter(roundKey, participant, source sys.Key) error {
	err := c.update(opEnter, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		r, err := loadRound(tx, roundKey)
		if err != nil {
			return err
		}
		if err := r.acceptsParticipants(); err != nil {
			return err
		}
		if err := c.adapter(r.Key).Deposit(tx, source, participant, r.EntryFee); err != nil {
			return err
		}
		if err := r.Participants.Enroll(participant); err != nil {
			return err
		}
		return r.store(tx)
	})
	if err == nil {
		c.metrics.entries.Inc()
	}
	return err
}

// Leave withdraws participant before the draw and refunds the entry fee to
// the account dest.
func (c *Coordinator) Leave(roundKey, participant, dest sys.Key) error {
	err := c.update(opLeave, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		r, err := loadRound(tx, roundKey)
		if err != nil {
			return err
		}
		if err := r.acceptsParticipants(); err != nil {
			return err
		}
		if err := r.Participants.Evict(participant); err != nil {
			return err
		}
		if err := c.adapter(r.Key).Pay(tx, dest, r.EntryFee); err != nil {
			return err
		}
		return r.store(tx)
	})
	if err == nil {
		c.metrics.entries.Dec()
	}
	return err
}

// RequestRandomness asks the oracle for the draw of a full round. The list
// of participants is frozen from then on.
func (c *Coordinator) RequestRandomness(roundKey, authority sys.Key, p vrf.RequestParams) error {
	return c.update(opRequest, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		r, err := loadRound(tx, roundKey)
		if err != nil {
			return err
		}
		if r.Status != StatusOpen {
			return xerrors.Errorf("round %s is %s: %w", r.Key.Short(), r.Status, sys.ErrInvalidStatus)
		}
		if !r.Participants.Full() {
			return xerrors.Errorf("round %s has %d of %d participants: %w",
				r.Key.Short(), r.Participants.Len(), r.MaxParticipants, sys.ErrInvalidStatus)
		}
		if c.oracle == nil {
			return xerrors.New("no oracle configured")
		}
		if _, err := vrf.Request(tx, r.Client, authority, c.oracle, p, now, n); err != nil {
			return err
		}
		r.DrawRequested = true
		return r.store(tx)
	})
}

// UpdateResult has the client of a round consume what its oracle wrote.
func (c *Coordinator) UpdateResult(clientKey sys.Key) (*vrf.Client, error) {
	var client *vrf.Client
	err := c.update(opUpdate, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		var err error
		client, _, err = vrf.UpdateResult(tx, clientKey, now, n)
		return err
	})
	return client, err
}

// DeliverRandomness is called by the oracle with the output of request
// counter. The output is written to the oracle account and consumed by the
// client the account reports to.
func (c *Coordinator) DeliverRandomness(oracleKey sys.Key, counter uint64, raw [32]byte) error {
	return c.update(opDeliver, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		acct, err := vrf.Fulfill(tx, oracleKey, counter, raw)
		if err != nil {
			return err
		}
		_, _, err = vrf.UpdateResult(tx, acct.Authority, now, n)
		return err
	})
}

// ChooseWinner uses the result of the client of the round as an index into
// the participants. It succeeds once per round.
func (c *Coordinator) ChooseWinner(roundKey, clientKey sys.Key) (sys.Key, error) {
	var winner sys.Key
	err := c.update(opChoose, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		r, err := loadRound(tx, roundKey)
		if err != nil {
			return err
		}
		if r.Status != StatusOpen {
			return xerrors.Errorf("round %s: %w", r.Key.Short(), sys.ErrWinnerAlreadySelected)
		}
		if clientKey != r.Client {
			return xerrors.Errorf("client %s does not draw for round %s: %w",
				clientKey.Short(), r.Key.Short(), sys.ErrInvalidRandomnessAccount)
		}
		client, err := vrf.Load(tx, clientKey)
		if err != nil {
			return err
		}
		if client.Round != r.Key {
			return xerrors.Errorf("client %s draws for %s: %w",
				clientKey.Short(), client.Round.Short(), sys.ErrInvalidRandomnessAccount)
		}
		if !r.DrawRequested {
			return xerrors.Errorf("round %s has not requested a draw: %w", r.Key.Short(), sys.ErrInvalidStatus)
		}
		if client.Status != vrf.StatusFulfilled {
			return xerrors.Errorf("client %s is %s: %w", clientKey.Short(), client.Status, sys.ErrEmptyCurrentRoundResult)
		}
		winner, err = r.Participants.At(client.Result)
		if err != nil {
			return err
		}
		r.Winner = winner
		r.Status = StatusCompleted
		return r.store(tx)
	})
	if err != nil {
		return sys.Key{}, err
	}
	log.Lvlf2("round %s: winner is %s", roundKey.Short(), winner.Short())
	return winner, nil
}

// Settle pays participant out of a completed round into the account dest
// and removes it from the round. The winner takes what is left in the vault
// once the fee of every other participant still in the round is set aside.
func (c *Coordinator) Settle(roundKey, participant, dest sys.Key) (uint64, error) {
	var payout uint64
	var isWinner bool
	err := c.update(opSettle, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		r, err := loadRound(tx, roundKey)
		if err != nil {
			return err
		}
		if r.Status != StatusCompleted {
			return xerrors.Errorf("round %s: %w", r.Key.Short(), sys.ErrLotteryStillOn)
		}
		if !r.Participants.Contains(participant) {
			return xerrors.Errorf("settling %s: %w", participant.Short(), sys.ErrNotFound)
		}
		v := c.adapter(r.Key)
		payout = r.EntryFee
		isWinner = participant == r.Winner
		if isWinner {
			balance, err := v.LiquidityBalance(tx)
			if err != nil {
				return err
			}
			// fees still owed to the others, whatever the settlement order
			payout, err = vault.WinnerPayout(balance, r.EntryFee, r.Participants.Len()-1)
			if err != nil {
				return err
			}
		}
		if err := v.Pay(tx, dest, payout); err != nil {
			return err
		}
		if err := r.Participants.Evict(participant); err != nil {
			return err
		}
		return r.store(tx)
	})
	if err != nil {
		return 0, err
	}
	c.metrics.entries.Dec()
	c.metrics.paidOut(isWinner, payout)
	return payout, nil
}

// Deploy lends amount of the vault of the round to the reserve; 0 lends
// everything. Only the authority of the round may do it.
func (c *Coordinator) Deploy(roundKey, authority sys.Key, amount uint64) (uint64, error) {
	var collateral, deployed uint64
	err := c.update(opDeploy, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		r, err := c.authorized(tx, roundKey, authority)
		if err != nil {
			return err
		}
		v := c.adapter(r.Key)
		before, err := v.LiquidityBalance(tx)
		if err != nil {
			return err
		}
		collateral, err = v.Deploy(tx, amount, now)
		if err != nil {
			return err
		}
		after, err := v.LiquidityBalance(tx)
		deployed = before - after
		return err
	})
	if err != nil {
		return 0, err
	}
	c.metrics.deployed.Add(float64(deployed))
	return collateral, nil
}

// Undeploy redeems collateral from the reserve back into the vault of the
// round; 0 redeems everything. Only the authority of the round may do it.
func (c *Coordinator) Undeploy(roundKey, authority sys.Key, collateral uint64) (uint64, error) {
	var liquidity uint64
	err := c.update(opUndeploy, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		r, err := c.authorized(tx, roundKey, authority)
		if err != nil {
			return err
		}
		liquidity, err = c.adapter(r.Key).Undeploy(tx, collateral, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	c.metrics.redeemed.Add(float64(liquidity))
	return liquidity, nil
}

// Close deletes a completed round once every participant settled, together
// with its randomness client and its empty vault.
func (c *Coordinator) Close(roundKey, authority sys.Key) error {
	err := c.update(opClose, func(tx *storage.Tx, now int64, n vrf.Notifier) error {
		r, err := c.authorized(tx, roundKey, authority)
		if err != nil {
			return err
		}
		if r.Status != StatusCompleted {
			return xerrors.Errorf("round %s: %w", r.Key.Short(), sys.ErrLotteryStillOn)
		}
		if r.Participants.Len() > 0 {
			return xerrors.Errorf("round %s still owes %d participants: %w",
				r.Key.Short(), r.Participants.Len(), sys.ErrInvalidStatus)
		}
		if err := c.adapter(r.Key).Close(tx); err != nil {
			return err
		}
		if err := vrf.Close(tx, r.Client); err != nil {
			return err
		}
		return tx.Delete(storage.KindRound, r.Key)
	})
	if err == nil {
		c.metrics.openRounds.Dec()
	}
	return err
}

func (c *Coordinator) authorized(tx *storage.Tx, roundKey, authority sys.Key) (*Round, error) {
	r, err := loadRound(tx, roundKey)
	if err != nil {
		return nil, err
	}
	if r.Authority != authority {
		return nil, xerrors.Errorf("%s acting on round %s: %w", authority.Short(), r.Key.Short(), sys.ErrInvalidAuthority)
	}
	return r, nil
}

// restoreGauges sets the gauges from the rounds already stored, when the
// coordinator takes over an existing store.
func (c *Coordinator) restoreGauges() error {
	var rounds, entries uint64
	err := c.store.View(func(tx *storage.Tx) error {
		keys, err := tx.Keys(storage.KindRound)
		if err != nil {
			return err
		}
		for _, k := range keys {
			r, err := loadRound(tx, k)
			if err != nil {
				return err
			}
			rounds++
			entries += r.Participants.Len()
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.metrics.openRounds.Set(float64(rounds))
	c.metrics.entries.Set(float64(entries))
	return nil
}

// Round returns the stored round.
func (c *Coordinator) Round(roundKey sys.Key) (*Round, error) {
	var r *Round
	err := c.store.View(func(tx *storage.Tx) error {
		var err error
		r, err = loadRound(tx, roundKey)
		return err
	})
	return r, err
}

// Client returns the stored randomness client.
func (c *Coordinator) Client(clientKey sys.Key) (*vrf.Client, error) {
	var cl *vrf.Client
	err := c.store.View(func(tx *storage.Tx) error {
		var err error
		cl, err = vrf.Load(tx, clientKey)
		return err
	})
	return cl, err
}

// Balance returns the amount held by a token account.
func (c *Coordinator) Balance(account sys.Key) (uint64, error) {
	var b uint64
	err := c.store.View(func(tx *storage.Tx) error {
		var err error
		b, err = c.tokens.Balance(tx, account)
		return err
	})
	return b, err
}
