package easyrand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestService(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	hosts, roster, _ := local.GenTree(5, true)
	defer local.CloseAll()

	services := local.GetServices(hosts, serviceID)
	root := services[0].(*EasyRand)

	_, err := root.Randomness(&RandomnessRequest{Roster: roster})
	require.Error(t, err, "no randomness before the dkg")

	dkgReply, err := root.InitDKG(&InitDKGRequest{Roster: roster, Timeout: 5})
	require.NoError(t, err)
	pub, err := PublicKey(dkgReply.Public)
	require.NoError(t, err)

	// wait for DKG to finish on all
	time.Sleep(time.Second / 2)

	// round 0 (genesis)
	resp, err := root.Randomness(&RandomnessRequest{Roster: roster})
	require.NoError(t, err)
	require.Equal(t, uint64(0), resp.Round)
	require.Equal(t, []byte(genesisMsg), resp.Prev)
	require.NoError(t, resp.Verify(pub))

	// future rounds chain on the previous signature
	values := map[[32]byte]bool{resp.Value(): true}
	for i := 1; i <= 3; i++ {
		prev := resp.Sig
		resp, err = root.Randomness(&RandomnessRequest{Roster: roster})
		require.NoError(t, err)
		require.Equal(t, uint64(i), resp.Round)
		require.Equal(t, prev, resp.Prev[8:])
		require.NoError(t, resp.Verify(pub))
		values[resp.Value()] = true
	}
	require.Len(t, values, 4)

	resp.Sig[0] ^= 0xff
	require.Error(t, resp.Verify(pub))
}

func TestClient(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	_, roster, _ := local.GenTree(4, true)
	defer local.CloseAll()

	c := NewClient(roster)
	dkgReply, err := c.InitDKG(5)
	require.NoError(t, err)
	pub, err := PublicKey(dkgReply.Public)
	require.NoError(t, err)
	time.Sleep(time.Second / 2)

	resp, err := c.Randomness(&RandomnessRequest{})
	require.NoError(t, err)
	require.NoError(t, resp.Verify(pub))
	require.Equal(t, dkgReply.Public, resp.Public)
}
