package lottery

import (
	"testing"
	"time"

	"github.com/dedis/noloss/sys"
	"github.com/dedis/noloss/vault"
	"github.com/dedis/noloss/vrf"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Faucet = 1000
	cfg.DKGTimeout = 5
	return cfg
}

func identity(t *testing.T, kp *key.Pair) sys.Key {
	id, err := sys.KeyFromPoint(kp.Public)
	require.NoError(t, err)
	return id
}

func TestService_Round(t *testing.T) {
	cfg := testConfig()
	UseConfig(cfg)
	defer UseConfig(DefaultConfig())

	local := onet.NewTCPTest(cothority.Suite)
	_, roster, _ := local.GenTree(3, true)
	defer local.CloseAll()

	c := NewClient(roster)
	setup, err := c.Setup()
	require.NoError(t, err)
	require.Equal(t, cfg.MintKey(), setup.Mint)
	require.Equal(t, cfg.ReserveKey(), setup.Reserve)

	// wait for the DKG to finish on all nodes
	time.Sleep(time.Second / 2)

	authority := key.NewKeyPair(cothority.Suite)
	rnd, err := c.InitRound(authority, "weekly", 100, 3)
	require.NoError(t, err)
	require.Equal(t, RoundKey(identity(t, authority), "weekly"), rnd.Round)

	var players []*key.Pair
	for i := 0; i < 3; i++ {
		kp := key.NewKeyPair(cothority.Suite)
		opened, err := c.OpenAccount(kp)
		require.NoError(t, err)
		require.Equal(t, uint64(1000), opened.Balance)
		require.NoError(t, c.Enter(kp, rnd.Round))
		players = append(players, kp)
	}

	stranger := key.NewKeyPair(cothority.Suite)
	_, err = c.OpenAccount(stranger)
	require.NoError(t, err)
	require.Error(t, c.Enter(stranger, rnd.Round), "the round is full")
	require.Error(t, c.Draw(stranger, rnd.Round), "only the authority draws")

	_, err = c.Deploy(authority, rnd.Round, 0, false)
	require.NoError(t, err)
	redeemed, err := c.Deploy(authority, rnd.Round, 0, true)
	require.NoError(t, err)
	require.Equal(t, uint64(300), redeemed)

	require.NoError(t, c.Draw(authority, rnd.Round))
	var got *GetRoundReply
	for i := 0; i < 50; i++ {
		got, err = c.GetRound(rnd.Round)
		require.NoError(t, err)
		if got.Client.Status == vrf.StatusFulfilled {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.Equal(t, vrf.StatusFulfilled, got.Client.Status)
	require.Equal(t, uint64(300), got.Vault)

	winner, err := c.ChooseWinner(rnd.Round)
	require.NoError(t, err)
	require.Equal(t, got.Round.Participants.Members[got.Client.Result], winner)
	_, err = c.ChooseWinner(rnd.Round)
	require.Error(t, err)

	for _, kp := range players {
		payout, err := c.Settle(kp, rnd.Round)
		require.NoError(t, err)
		require.Equal(t, uint64(100), payout)
		balance, err := c.GetBalance(vault.TokenAccountKey(identity(t, kp), cfg.MintKey()))
		require.NoError(t, err)
		require.Equal(t, uint64(1000), balance)
	}

	require.Error(t, c.Close(stranger, rnd.Round))
	require.NoError(t, c.Close(authority, rnd.Round))
	_, err = c.GetRound(rnd.Round)
	require.Error(t, err)
}

func TestService_Signatures(t *testing.T) {
	UseConfig(testConfig())
	defer UseConfig(DefaultConfig())

	local := onet.NewTCPTest(cothority.Suite)
	_, roster, _ := local.GenTree(1, true)
	defer local.CloseAll()
	c := NewClient(roster)

	kp := key.NewKeyPair(cothority.Suite)
	other := key.NewKeyPair(cothority.Suite)
	sig, err := sign(other, signedMsg(msgOpenAccount))
	require.NoError(t, err)
	err = c.send(&OpenAccountRequest{Owner: kp.Public, Signature: sig}, &OpenAccountReply{})
	require.Error(t, err)
	require.Contains(t, err.Error(), sys.ErrInvalidSignature.Msg)

	_, err = c.OpenAccount(kp)
	require.NoError(t, err)
	_, err = c.OpenAccount(kp)
	require.Error(t, err, "the account exists")

	_, err = verifySignature(nil, sig, signedMsg(msgOpenAccount))
	require.Error(t, err)
	id, err := verifySignature(other.Public, sig, signedMsg(msgOpenAccount))
	require.NoError(t, err)
	require.Equal(t, identity(t, other), id)
}
