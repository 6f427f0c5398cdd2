package lottery

import (
	"github.com/dedis/noloss/sys"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"
)

// Client talks to the lottery service of the first node of the roster.
// Participants and authorities sign their requests with their key pair.
type Client struct {
	*onet.Client
	roster *onet.Roster
}

func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

func (c *Client) send(req, reply interface{}) error {
	return c.SendProtobuf(c.roster.List[0], req, reply)
}

func sign(kp *key.Pair, msg []byte) ([]byte, error) {
	sig, err := schnorr.Sign(cothority.Suite, kp.Private, msg)
	if err != nil {
		return nil, xerrors.Errorf("signing request: %v", err)
	}
	return sig, nil
}

// Setup runs the beacon DKG on the roster of the client.
func (c *Client) Setup() (*SetupReply, error) {
	reply := &SetupReply{}
	err := c.send(&SetupRequest{Roster: c.roster}, reply)
	return reply, err
}

func (c *Client) OpenAccount(kp *key.Pair) (*OpenAccountReply, error) {
	sig, err := sign(kp, signedMsg(msgOpenAccount))
	if err != nil {
		return nil, err
	}
	reply := &OpenAccountReply{}
	err = c.send(&OpenAccountRequest{Owner: kp.Public, Signature: sig}, reply)
	return reply, err
}

func (c *Client) InitRound(kp *key.Pair, name string, entryFee, maxParticipants uint64) (*InitRoundReply, error) {
	req := &InitRoundRequest{
		Authority:       kp.Public,
		Name:            name,
		EntryFee:        entryFee,
		MaxParticipants: maxParticipants,
	}
	var err error
	if req.Signature, err = sign(kp, req.msg()); err != nil {
		return nil, err
	}
	reply := &InitRoundReply{}
	err = c.send(req, reply)
	return reply, err
}

func (c *Client) Enter(kp *key.Pair, round sys.Key) error {
	sig, err := sign(kp, signedMsg(msgEnter, round.Slice()))
	if err != nil {
		return err
	}
	return c.send(&EnterRequest{Round: round, Participant: kp.Public, Signature: sig}, &EnterReply{})
}

func (c *Client) Leave(kp *key.Pair, round sys.Key) error {
	sig, err := sign(kp, signedMsg(msgLeave, round.Slice()))
	if err != nil {
		return err
	}
	return c.send(&LeaveRequest{Round: round, Participant: kp.Public, Signature: sig}, &LeaveReply{})
}

// Draw asks for the draw of a full round. The output arrives later.
func (c *Client) Draw(kp *key.Pair, round sys.Key) error {
	sig, err := sign(kp, signedMsg(msgDraw, round.Slice()))
	if err != nil {
		return err
	}
	return c.send(&DrawRequest{Round: round, Authority: kp.Public, Signature: sig}, &DrawReply{})
}

func (c *Client) ChooseWinner(round sys.Key) (sys.Key, error) {
	reply := &ChooseWinnerReply{}
	err := c.send(&ChooseWinnerRequest{Round: round}, reply)
	return reply.Winner, err
}

func (c *Client) Settle(kp *key.Pair, round sys.Key) (uint64, error) {
	sig, err := sign(kp, signedMsg(msgSettle, round.Slice()))
	if err != nil {
		return 0, err
	}
	reply := &SettleReply{}
	err = c.send(&SettleRequest{Round: round, Participant: kp.Public, Signature: sig}, reply)
	return reply.Payout, err
}

// Deploy lends amount of the vault out, or redeems amount collateral when
// undeploy is set.
func (c *Client) Deploy(kp *key.Pair, round sys.Key, amount uint64, undeploy bool) (uint64, error) {
	req := &DeployRequest{Round: round, Authority: kp.Public, Amount: amount, Undeploy: undeploy}
	var err error
	if req.Signature, err = sign(kp, req.msg()); err != nil {
		return 0, err
	}
	reply := &DeployReply{}
	err = c.send(req, reply)
	return reply.Amount, err
}

func (c *Client) Close(kp *key.Pair, round sys.Key) error {
	sig, err := sign(kp, signedMsg(msgClose, round.Slice()))
	if err != nil {
		return err
	}
	return c.send(&CloseRequest{Round: round, Authority: kp.Public, Signature: sig}, &CloseReply{})
}

func (c *Client) GetRound(round sys.Key) (*GetRoundReply, error) {
	reply := &GetRoundReply{}
	err := c.send(&GetRoundRequest{Round: round}, reply)
	return reply, err
}

func (c *Client) GetBalance(account sys.Key) (uint64, error) {
	reply := &GetBalanceReply{}
	err := c.send(&GetBalanceRequest{Account: account}, reply)
	return reply.Balance, err
}
