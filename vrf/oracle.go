package vrf

import (
	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// OracleProgram owns every oracle account. An account whose owner differs
// was not created by the oracle and is refused.
var OracleProgram = sys.DeriveKey("oracle_program")

// ErrNoPendingRequest is returned by Fulfill when the output does not answer
// the request currently pending on the account.
var ErrNoPendingRequest = xerrors.New("no pending randomness request")

// OracleAccount is the account the oracle writes its output to. Authority is
// the randomness client allowed to request from it and to read it.
type OracleAccount struct {
	Key       sys.Key
	Owner     sys.Key
	Authority sys.Key
	Queue     sys.Key
	Escrow    sys.Key
	Result    [32]byte
	Counter   uint64
	Pending   bool
}

// OracleRequest is what the oracle needs to schedule a new output. Seeds are the
// parts the client key is derived from, so that the callback can be
// addressed to it.
type OracleRequest struct {
	Client  sys.Key
	Oracle  sys.Key
	Queue   sys.Key
	Escrow  sys.Key
	Payer   sys.Key
	Seeds   [][]byte
	Counter uint64
}

// Oracle schedules the production of random outputs. The output is written
// later with Fulfill, outside of the operation that requested it.
type Oracle interface {
	RequestRandomness(req *OracleRequest) error
}

// RegisterOracleAccount stores a new oracle account owned by the oracle
// program.
func RegisterOracleAccount(tx *storage.Tx, acct *OracleAccount) error {
	if tx.Has(storage.KindOracle, acct.Key) {
		return xerrors.Errorf("oracle account %s: %w", acct.Key.Short(), sys.ErrAlreadyInitialized)
	}
	acct.Owner = OracleProgram
	acct.Counter = 0
	acct.Pending = false
	acct.Result = [32]byte{}
	return tx.Put(storage.KindOracle, acct.Key, acct)
}

// LoadOracleAccount returns the oracle account stored under key after
// checking it is owned by the oracle program.
func LoadOracleAccount(tx *storage.Tx, key sys.Key) (*OracleAccount, error) {
	acct := &OracleAccount{}
	err := tx.Get(storage.KindOracle, key, acct)
	if xerrors.Is(err, storage.ErrNotFound) {
		return nil, xerrors.Errorf("oracle account %s: %w", key.Short(), sys.ErrInvalidOracleAccount)
	}
	if err != nil {
		return nil, err
	}
	if acct.Owner != OracleProgram {
		return nil, xerrors.Errorf("oracle account %s has owner %s: %w",
			key.Short(), acct.Owner.Short(), sys.ErrInvalidOracleAccount)
	}
	return acct, nil
}

// Fulfill writes the output of request counter to the oracle account. It
// is the oracle's side of the handshake; the client reads the output with
// UpdateResult. An all-zero output leaves the request pending.
func Fulfill(tx *storage.Tx, oracleKey sys.Key, counter uint64, raw [32]byte) (*OracleAccount, error) {
	acct, err := LoadOracleAccount(tx, oracleKey)
	if err != nil {
		return nil, err
	}
	if !acct.Pending || acct.Counter != counter {
		log.Lvlf2("dropping output %d for oracle %s (pending=%v counter=%d)",
			counter, oracleKey.Short(), acct.Pending, acct.Counter)
		return nil, ErrNoPendingRequest
	}
	if raw == ([32]byte{}) {
		// nothing produced yet, the request stays pending
		return acct, nil
	}
	acct.Result = raw
	acct.Pending = false
	if err := tx.Put(storage.KindOracle, acct.Key, acct); err != nil {
		return nil, err
	}
	return acct, nil
}
