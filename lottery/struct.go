package lottery

import (
	"encoding/binary"

	"github.com/dedis/noloss/sys"
	"github.com/dedis/noloss/vrf"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
)

func init() {
	network.RegisterMessages(&SetupRequest{}, &SetupReply{},
		&OpenAccountRequest{}, &OpenAccountReply{},
		&InitRoundRequest{}, &InitRoundReply{},
		&EnterRequest{}, &EnterReply{},
		&LeaveRequest{}, &LeaveReply{},
		&DrawRequest{}, &DrawReply{},
		&ChooseWinnerRequest{}, &ChooseWinnerReply{},
		&SettleRequest{}, &SettleReply{},
		&DeployRequest{}, &DeployReply{},
		&CloseRequest{}, &CloseReply{},
		&GetRoundRequest{}, &GetRoundReply{},
		&GetBalanceRequest{}, &GetBalanceReply{})
}

// SetupRequest runs the DKG of the randomness beacon on Roster and creates
// the lending reserve.
type SetupRequest struct {
	Roster *onet.Roster
}

type SetupReply struct {
	Public  []byte
	Mint    sys.Key
	Reserve sys.Key
	Queue   sys.Key
}

// OpenAccountRequest opens the token account of Owner.
type OpenAccountRequest struct {
	Owner     kyber.Point
	Signature []byte
}

type OpenAccountReply struct {
	Account sys.Key
	Balance uint64
}

// InitRoundRequest creates a round. The service registers an oracle
// account for it on the queue of the service.
type InitRoundRequest struct {
	Authority       kyber.Point
	Name            string
	EntryFee        uint64
	MaxParticipants uint64
	Signature       []byte
}

type InitRoundReply struct {
	Round  sys.Key
	Client sys.Key
	Oracle sys.Key
}

type EnterRequest struct {
	Round       sys.Key
	Participant kyber.Point
	Signature   []byte
}

type EnterReply struct{}

type LeaveRequest struct {
	Round       sys.Key
	Participant kyber.Point
	Signature   []byte
}

type LeaveReply struct{}

// DrawRequest asks the beacon for the draw of a full round. The reply comes
// back before the output: poll GetRound until the client is fulfilled.
type DrawRequest struct {
	Round     sys.Key
	Authority kyber.Point
	Signature []byte
}

type DrawReply struct{}

type ChooseWinnerRequest struct {
	Round sys.Key
}

type ChooseWinnerReply struct {
	Winner sys.Key
}

type SettleRequest struct {
	Round       sys.Key
	Participant kyber.Point
	Signature   []byte
}

type SettleReply struct {
	Payout uint64
}

// DeployRequest lends Amount of the vault to the reserve, or redeems Amount
// collateral when Undeploy is set. An amount of 0 moves everything.
type DeployRequest struct {
	Round     sys.Key
	Authority kyber.Point
	Amount    uint64
	Undeploy  bool
	Signature []byte
}

type DeployReply struct {
	Amount uint64
}

type CloseRequest struct {
	Round     sys.Key
	Authority kyber.Point
	Signature []byte
}

type CloseReply struct{}

type GetRoundRequest struct {
	Round sys.Key
}

type GetRoundReply struct {
	Round  *Round
	Client *vrf.Client
	Vault  uint64
}

type GetBalanceRequest struct {
	Account sys.Key
}

type GetBalanceReply struct {
	Balance uint64
}

// Messages signed by the clients. Every signed request covers the name of
// the operation and the keys it acts on.
const (
	msgOpenAccount = "open_account"
	msgInitRound   = "init_round"
	msgEnter       = "enter"
	msgLeave       = "leave"
	msgDraw        = "draw"
	msgSettle      = "settle"
	msgDeploy      = "deploy"
	msgUndeploy    = "undeploy"
	msgClose       = "close"
)

func signedMsg(op string, parts ...[]byte) []byte {
	return sys.DeriveKey(op, parts...).Slice()
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func (r *InitRoundRequest) msg() []byte {
	return signedMsg(msgInitRound, []byte(r.Name), u64(r.EntryFee), u64(r.MaxParticipants))
}

func (r *DeployRequest) msg() []byte {
	op := msgDeploy
	if r.Undeploy {
		op = msgUndeploy
	}
	return signedMsg(op, r.Round.Slice(), u64(r.Amount))
}
