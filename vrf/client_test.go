package vrf

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type fakeOracle struct {
	requests []*OracleRequest
	err      error
}

func (o *fakeOracle) RequestRandomness(req *OracleRequest) error {
	if o.err != nil {
		return o.err
	}
	o.requests = append(o.requests, req)
	return nil
}

var (
	testRound     = sys.DeriveKey(sys.SeedRound, []byte("round"))
	testAuthority = sys.DeriveKey("authority")
	testOracle    = sys.DeriveKey("oracle")
	testQueue     = sys.DeriveKey("queue")
)

func output(v uint64) [32]byte {
	var raw [32]byte
	binary.LittleEndian.PutUint64(raw[:], v)
	raw[31] = 0xff
	return raw
}

func setup(t *testing.T, maxResult uint64) (*storage.Store, *Client) {
	s, err := storage.Open(filepath.Join(t.TempDir(), "vrf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var c *Client
	require.NoError(t, s.Update(func(tx *storage.Tx) error {
		err := RegisterOracleAccount(tx, &OracleAccount{
			Key:       testOracle,
			Authority: ClientKey(testOracle, testRound),
			Queue:     testQueue,
		})
		if err != nil {
			return err
		}
		c, err = Initialize(tx, testOracle, testAuthority, testRound, maxResult, 1)
		return err
	}))
	return s, c
}

func TestInitialize(t *testing.T) {
	_, c := setup(t, 0)
	require.Equal(t, MaxResult, c.MaxResult)
	require.Equal(t, StatusUninitialized, c.Status)
	require.Equal(t, ClientKey(testOracle, testRound), c.Key)

	s, _ := setup(t, 5)
	err := s.Update(func(tx *storage.Tx) error {
		_, err := Initialize(tx, testOracle, testAuthority, testRound, 5, 2)
		return err
	})
	require.True(t, xerrors.Is(err, sys.ErrAlreadyInitialized))

	// the oracle reports to the client of another round
	other := sys.DeriveKey(sys.SeedRound, []byte("other"))
	err = s.Update(func(tx *storage.Tx) error {
		_, err := Initialize(tx, testOracle, testAuthority, other, 5, 2)
		return err
	})
	require.True(t, xerrors.Is(err, sys.ErrInvalidAuthority))

	err = s.Update(func(tx *storage.Tx) error {
		_, err := Initialize(tx, sys.DeriveKey("unknown"), testAuthority, other, 5, 2)
		return err
	})
	require.True(t, xerrors.Is(err, sys.ErrInvalidOracleAccount))

	err = s.Update(func(tx *storage.Tx) error {
		_, err := Initialize(tx, testOracle, testAuthority, other, MaxResult+1, 2)
		return err
	})
	require.True(t, xerrors.Is(err, sys.ErrMaxResultExceedsMaximum))
}

func TestRequest_Authorization(t *testing.T) {
	s, c := setup(t, 5)
	oracle := &fakeOracle{}
	rec := &Recorder{}
	params := RequestParams{Oracle: testOracle, Queue: testQueue}

	err := s.Update(func(tx *storage.Tx) error {
		_, err := Request(tx, c.Key, sys.DeriveKey("mallory"), oracle, params, 2, rec)
		return err
	})
	require.True(t, xerrors.Is(err, sys.ErrInvalidAuthority))

	err = s.Update(func(tx *storage.Tx) error {
		p := params
		p.Oracle = sys.DeriveKey("other oracle")
		_, err := Request(tx, c.Key, testAuthority, oracle, p, 2, rec)
		return err
	})
	require.True(t, xerrors.Is(err, sys.ErrInvalidRandomnessAccount))

	err = s.Update(func(tx *storage.Tx) error {
		p := params
		p.Queue = sys.DeriveKey("other queue")
		_, err := Request(tx, c.Key, testAuthority, oracle, p, 2, rec)
		return err
	})
	require.True(t, xerrors.Is(err, sys.ErrInvalidOracleAccount))
	require.Empty(t, oracle.requests)
	require.Empty(t, rec.Events())

	oracle.err = xerrors.New("queue is down")
	err = s.Update(func(tx *storage.Tx) error {
		_, err := Request(tx, c.Key, testAuthority, oracle, params, 2, rec)
		return err
	})
	require.Error(t, err)
	require.NoError(t, s.View(func(tx *storage.Tx) error {
		acct, err := LoadOracleAccount(tx, testOracle)
		require.NoError(t, err)
		require.False(t, acct.Pending)
		require.Equal(t, uint64(0), acct.Counter)
		return nil
	}))
}

func TestRequestFulfillUpdate(t *testing.T) {
	s, c := setup(t, 5)
	oracle := &fakeOracle{}
	rec := &Recorder{}
	params := RequestParams{Oracle: testOracle, Queue: testQueue}

	require.NoError(t, s.Update(func(tx *storage.Tx) error {
		_, err := Request(tx, c.Key, testAuthority, oracle, params, 2, rec)
		return err
	}))
	require.Len(t, oracle.requests, 1)
	req := oracle.requests[0]
	require.Equal(t, c.Key, req.Client)
	require.Equal(t, c.Key, sys.DeriveKey(string(req.Seeds[0]), req.Seeds[1:]...))
	require.Equal(t, []Event{RandomnessRequested{Client: c.Key, MaxResult: 5, Timestamp: 2}}, rec.Events())
	rec.Reset()

	// nothing written yet: the update is a no-op
	require.NoError(t, s.Update(func(tx *storage.Tx) error {
		got, changed, err := UpdateResult(tx, c.Key, 3, rec)
		require.NoError(t, err)
		require.False(t, changed)
		require.Equal(t, StatusRequested, got.Status)
		return nil
	}))
	require.Empty(t, rec.Events())

	// an output for another request is refused
	err := s.Update(func(tx *storage.Tx) error {
		_, err := Fulfill(tx, testOracle, req.Counter+1, output(7))
		return err
	})
	require.Equal(t, ErrNoPendingRequest, err)

	require.NoError(t, s.Update(func(tx *storage.Tx) error {
		_, err := Fulfill(tx, testOracle, req.Counter, output(7))
		return err
	}))
	require.NoError(t, s.Update(func(tx *storage.Tx) error {
		got, changed, err := UpdateResult(tx, c.Key, 4, rec)
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, uint64(2), got.Result)
		require.Equal(t, StatusFulfilled, got.Status)
		return nil
	}))
	require.Equal(t, []Event{
		RandomnessClientInvoked{Client: c.Key, Timestamp: 4},
		RandomnessResultUpdated{Client: c.Key, Result: 2, ResultBuffer: output(7), Timestamp: 4},
	}, rec.Events())

	// the oracle account already answered
	err = s.Update(func(tx *storage.Tx) error {
		_, err := Fulfill(tx, testOracle, req.Counter, output(8))
		return err
	})
	require.Equal(t, ErrNoPendingRequest, err)
}

func TestConsumeUpdate_ZeroBuffer(t *testing.T) {
	c := &Client{MaxResult: 5, Result: 3, Status: StatusRequested, LastTimestamp: 1}
	before := *c
	rec := &Recorder{}
	require.False(t, ConsumeUpdate(c, [32]byte{}, 10, rec))
	require.Empty(t, cmp.Diff(before, *c))
	require.Empty(t, rec.Events())
}

func TestConsumeUpdate_Duplicate(t *testing.T) {
	c := &Client{MaxResult: 5, Status: StatusRequested}
	rec := &Recorder{}
	require.True(t, ConsumeUpdate(c, output(12), 10, rec))
	after := *c

	require.False(t, ConsumeUpdate(c, output(12), 11, rec))
	require.Empty(t, cmp.Diff(after, *c))
	events := rec.Events()
	require.Len(t, events, 3)
	require.Equal(t, RandomnessClientInvoked{Timestamp: 11}, events[2])
}

func TestReduce(t *testing.T) {
	require.Equal(t, uint64(2), Reduce(output(2), 5))
	require.Equal(t, uint64(2), Reduce(output(7), 5))
	require.Equal(t, uint64(0), Reduce(output(0), 5))

	// only the first 16 bytes count, read little-endian
	var raw [32]byte
	raw[8] = 1 // 2^64
	require.Equal(t, uint64(1), Reduce(raw, 5))
	raw[16] = 0xff
	require.Equal(t, uint64(1), Reduce(raw, 5))

	rapid.Check(t, func(t *rapid.T) {
		max := rapid.Uint64Range(1, MaxResult).Draw(t, "max")
		lo := rapid.Uint64().Draw(t, "lo")
		var raw [32]byte
		binary.LittleEndian.PutUint64(raw[:], lo)
		got := Reduce(raw, max)
		if got >= max {
			t.Fatalf("%d not below %d", got, max)
		}
		if got != lo%max {
			t.Fatalf("got %d, expected %d", got, lo%max)
		}
	})
}

func TestClose_FreshOracle(t *testing.T) {
	s, c := setup(t, 5)
	oracle := &fakeOracle{}
	params := RequestParams{Oracle: testOracle, Queue: testQueue}
	require.NoError(t, s.Update(func(tx *storage.Tx) error {
		if _, err := Request(tx, c.Key, testAuthority, oracle, params, 2, &Recorder{}); err != nil {
			return err
		}
		_, err := Fulfill(tx, testOracle, oracle.requests[0].Counter, output(3))
		return err
	}))

	// a served account can't back a new client
	require.NoError(t, s.Update(func(tx *storage.Tx) error {
		return tx.Delete(storage.KindClient, c.Key)
	}))
	err := s.Update(func(tx *storage.Tx) error {
		_, err := Initialize(tx, testOracle, testAuthority, testRound, 5, 3)
		return err
	})
	require.True(t, xerrors.Is(err, sys.ErrInvalidOracleAccount))

	s, c = setup(t, 5)
	require.NoError(t, s.Update(func(tx *storage.Tx) error {
		return Close(tx, c.Key)
	}))
	require.NoError(t, s.View(func(tx *storage.Tx) error {
		require.False(t, tx.Has(storage.KindClient, c.Key))
		require.False(t, tx.Has(storage.KindOracle, testOracle))
		return nil
	}))
	err = s.Update(func(tx *storage.Tx) error {
		return Close(tx, c.Key)
	})
	require.True(t, xerrors.Is(err, sys.ErrInvalidRandomnessAccount))
}
