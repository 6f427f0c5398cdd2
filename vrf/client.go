// Package vrf implements the randomness client of a lottery round: it asks
// an oracle for a new output, reads the output back once the oracle wrote it
// and reduces it to the range the round draws from.
//
// The handshake is asynchronous. Request schedules an output and moves the
// client to StatusRequested; the oracle later writes the output to its
// account with Fulfill; UpdateResult then consumes it and moves the client
// to StatusFulfilled.
package vrf

import (
	"math"

	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"github.com/holiman/uint256"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// MaxResult is the largest exclusive bound a client accepts. The reduced
// result is used as an index into the participant list, so it has to fit a
// native int.
const MaxResult = uint64(math.MaxInt)

// Status of a randomness client.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusRequested
	StatusFulfilled
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusRequested:
		return "requested"
	case StatusFulfilled:
		return "fulfilled"
	default:
		return "unknown"
	}
}

// Client is the stored state of a randomness client. Round is a back
// reference to the round the client draws for, Authority is the only
// identity allowed to request a new output.
type Client struct {
	Key           sys.Key
	Round         sys.Key
	Authority     sys.Key
	Oracle        sys.Key
	MaxResult     uint64
	Result        uint64
	ResultBuffer  [32]byte
	LastTimestamp int64
	Status        Status
	Requests      uint64
}

// ClientKey returns the key of the client drawing for round from oracle.
func ClientKey(oracle, round sys.Key) sys.Key {
	return sys.DeriveKey(sys.SeedClient, oracle.Slice(), round.Slice())
}

func clientSeeds(oracle, round sys.Key) [][]byte {
	return [][]byte{[]byte(sys.SeedClient), oracle.Slice(), round.Slice()}
}

// Initialize creates the client of round. The oracle account must designate
// the client as its authority, otherwise the client could read outputs it
// never asked for. A maxResult of 0 stands for MaxResult.
func Initialize(tx *storage.Tx, oracleKey, authority, round sys.Key, maxResult uint64, now int64) (*Client, error) {
	if maxResult == 0 {
		maxResult = MaxResult
	}
	if maxResult > MaxResult {
		return nil, xerrors.Errorf("max result %d: %w", maxResult, sys.ErrMaxResultExceedsMaximum)
	}
	key := ClientKey(oracleKey, round)
	if tx.Has(storage.KindClient, key) {
		return nil, xerrors.Errorf("client %s: %w", key.Short(), sys.ErrAlreadyInitialized)
	}
	acct, err := LoadOracleAccount(tx, oracleKey)
	if err != nil {
		return nil, err
	}
	if acct.Authority != key {
		return nil, xerrors.Errorf("oracle %s reports to %s, not %s: %w",
			oracleKey.Short(), acct.Authority.Short(), key.Short(), sys.ErrInvalidAuthority)
	}
	if acct.Pending || acct.Result != ([32]byte{}) {
		return nil, xerrors.Errorf("oracle %s already served a request: %w",
			oracleKey.Short(), sys.ErrInvalidOracleAccount)
	}
	c := &Client{
		Key:           key,
		Round:         round,
		Authority:     authority,
		Oracle:        oracleKey,
		MaxResult:     maxResult,
		LastTimestamp: now,
		Status:        StatusUninitialized,
	}
	if err := tx.Put(storage.KindClient, key, c); err != nil {
		return nil, err
	}
	log.Lvlf2("initialized client %s for round %s with max result %d", key.Short(), round.Short(), maxResult)
	return c, nil
}

// Load returns the client stored under key.
func Load(tx *storage.Tx, key sys.Key) (*Client, error) {
	c := &Client{}
	err := tx.Get(storage.KindClient, key, c)
	if xerrors.Is(err, storage.ErrNotFound) {
		return nil, xerrors.Errorf("client %s: %w", key.Short(), sys.ErrInvalidRandomnessAccount)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close deletes the client together with the oracle account it reads from,
// so that a later client of the same round starts from a fresh account.
func Close(tx *storage.Tx, key sys.Key) error {
	c, err := Load(tx, key)
	if err != nil {
		return err
	}
	if tx.Has(storage.KindOracle, c.Oracle) {
		if err := tx.Delete(storage.KindOracle, c.Oracle); err != nil {
			return err
		}
	}
	return tx.Delete(storage.KindClient, key)
}

// RequestParams are the oracle side accounts of a request. Oracle has to be
// the account the client was initialized with and Queue the queue that
// account belongs to.
type RequestParams struct {
	Oracle sys.Key
	Queue  sys.Key
	Escrow sys.Key
	Payer  sys.Key
}

// Request asks the oracle for a new output. The current result is cleared
// and the client waits in StatusRequested until UpdateResult consumes the
// output.
func Request(tx *storage.Tx, key, caller sys.Key, oracle Oracle, p RequestParams, now int64, n Notifier) (*Client, error) {
	c, err := Load(tx, key)
	if err != nil {
		return nil, err
	}
	if caller != c.Authority {
		return nil, xerrors.Errorf("%s requesting for client %s: %w",
			caller.Short(), key.Short(), sys.ErrInvalidAuthority)
	}
	if p.Oracle != c.Oracle {
		return nil, xerrors.Errorf("client %s uses oracle %s, got %s: %w",
			key.Short(), c.Oracle.Short(), p.Oracle.Short(), sys.ErrInvalidRandomnessAccount)
	}
	acct, err := LoadOracleAccount(tx, p.Oracle)
	if err != nil {
		return nil, err
	}
	if acct.Queue != p.Queue {
		return nil, xerrors.Errorf("oracle %s is not on queue %s: %w",
			p.Oracle.Short(), p.Queue.Short(), sys.ErrInvalidOracleAccount)
	}

	acct.Counter++
	acct.Pending = true
	acct.Result = [32]byte{}
	if err := tx.Put(storage.KindOracle, acct.Key, acct); err != nil {
		return nil, err
	}
	err = oracle.RequestRandomness(&OracleRequest{
		Client:  c.Key,
		Oracle:  acct.Key,
		Queue:   p.Queue,
		Escrow:  p.Escrow,
		Payer:   p.Payer,
		Seeds:   clientSeeds(c.Oracle, c.Round),
		Counter: acct.Counter,
	})
	if err != nil {
		return nil, xerrors.Errorf("oracle request: %v", err)
	}

	c.Result = 0
	c.Status = StatusRequested
	c.Requests++
	if err := tx.Put(storage.KindClient, c.Key, c); err != nil {
		return nil, err
	}
	n.Notify(RandomnessRequested{Client: c.Key, MaxResult: c.MaxResult, Timestamp: now})
	return c, nil
}

// UpdateResult reads the output the oracle wrote for the client and consumes
// it. It returns whether the client changed.
func UpdateResult(tx *storage.Tx, key sys.Key, now int64, n Notifier) (*Client, bool, error) {
	c, err := Load(tx, key)
	if err != nil {
		return nil, false, err
	}
	acct, err := LoadOracleAccount(tx, c.Oracle)
	if err != nil {
		return nil, false, err
	}
	if acct.Authority != c.Key {
		return nil, false, xerrors.Errorf("oracle %s does not report to %s: %w",
			acct.Key.Short(), c.Key.Short(), sys.ErrInvalidAuthority)
	}
	if !ConsumeUpdate(c, acct.Result, now, n) {
		return c, false, nil
	}
	if err := tx.Put(storage.KindClient, c.Key, c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// ConsumeUpdate applies a raw oracle output to c. An all-zero output means
// the oracle has not produced anything yet and is ignored without a
// notification. Every other output is acknowledged, but only one that
// differs from the last consumed output changes c.
func ConsumeUpdate(c *Client, raw [32]byte, now int64, n Notifier) bool {
	if raw == ([32]byte{}) {
		return false
	}
	n.Notify(RandomnessClientInvoked{Client: c.Key, Timestamp: now})
	if raw == c.ResultBuffer {
		log.Lvlf3("client %s: output already consumed", c.Key.Short())
		return false
	}
	c.Result = Reduce(raw, c.MaxResult)
	c.ResultBuffer = raw
	c.LastTimestamp = now
	c.Status = StatusFulfilled
	n.Notify(RandomnessResultUpdated{
		Client:       c.Key,
		Result:       c.Result,
		ResultBuffer: raw,
		Timestamp:    now,
	})
	return true
}

// Reduce reads the first 16 bytes of raw as a little-endian 128-bit integer
// and returns it modulo max, in [0, max).
func Reduce(raw [32]byte, max uint64) uint64 {
	if max == 0 {
		return 0
	}
	var be [16]byte
	for i := range be {
		be[i] = raw[15-i]
	}
	v := new(uint256.Int).SetBytes(be[:])
	v.Mod(v, uint256.NewInt(max))
	return v.Uint64()
}
