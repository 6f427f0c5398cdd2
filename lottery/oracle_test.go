package lottery

import (
	"testing"

	"github.com/dedis/noloss/easyrand"
	"github.com/dedis/noloss/sys"
	"github.com/dedis/noloss/vrf"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/xerrors"
)

// signingBeacon signs increasing rounds with a single BLS key.
type signingBeacon struct {
	suite  *bn256.Suite
	secret kyber.Scalar
	round  uint64
	err    error
}

func newSigningBeacon() (*signingBeacon, kyber.Point) {
	suite := bn256.NewSuite()
	secret, public := bls.NewKeyPair(suite, random.New())
	return &signingBeacon{suite: suite, secret: secret}, public
}

func (b *signingBeacon) Randomness(req *easyrand.RandomnessRequest) (*easyrand.RandomnessReply, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.round++
	prev := []byte{byte(b.round)}
	sig, err := bls.Sign(b.suite, b.secret, prev)
	if err != nil {
		return nil, err
	}
	return &easyrand.RandomnessReply{Round: b.round, Prev: prev, Sig: sig}, nil
}

type delivery struct {
	oracle  sys.Key
	counter uint64
	raw     [32]byte
}

func TestBeaconOracle(t *testing.T) {
	beacon, public := newSigningBeacon()
	got := make(chan delivery, 1)
	o := NewBeaconOracle(beacon, nil, public, func(oracle sys.Key, counter uint64, raw [32]byte) error {
		got <- delivery{oracle, counter, raw}
		return nil
	})
	done := make(chan error, 1)
	o.Served = func(_ *vrf.OracleRequest, err error) { done <- err }

	req := &vrf.OracleRequest{Oracle: sys.DeriveKey("oracle"), Counter: 3}
	require.NoError(t, o.RequestRandomness(req))
	require.NoError(t, <-done)
	d := <-got
	require.Equal(t, req.Oracle, d.oracle)
	require.Equal(t, uint64(3), d.counter)
	require.NotEqual(t, [32]byte{}, d.raw)

	// a beacon failure delivers nothing
	beacon.err = xerrors.New("beacon down")
	require.NoError(t, o.RequestRandomness(req))
	require.Error(t, <-done)
	require.Len(t, got, 0)
}

func TestBeaconOracle_WrongKey(t *testing.T) {
	beacon, _ := newSigningBeacon()
	_, other := newSigningBeacon()
	delivered := false
	o := NewBeaconOracle(beacon, nil, other, func(sys.Key, uint64, [32]byte) error {
		delivered = true
		return nil
	})
	done := make(chan error, 1)
	o.Served = func(_ *vrf.OracleRequest, err error) { done <- err }
	require.NoError(t, o.RequestRandomness(&vrf.OracleRequest{}))
	require.Error(t, <-done)
	require.False(t, delivered)

	o = NewBeaconOracle(beacon, nil, nil, nil)
	require.Error(t, o.RequestRandomness(&vrf.OracleRequest{}))
}

func TestBeaconOracle_Unobserved(t *testing.T) {
	beacon, public := newSigningBeacon()
	got := make(chan uint64, 3)
	o := NewBeaconOracle(beacon, nil, public, func(_ sys.Key, counter uint64, _ [32]byte) error {
		got <- counter
		return nil
	})
	// nobody watches the outcomes: every request is still served
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, o.RequestRandomness(&vrf.OracleRequest{Counter: i}))
		require.Equal(t, i, <-got)
	}
}
