package easyrand

import (
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/onet/v3"
)

type Client struct {
	*onet.Client
	roster *onet.Roster
}

func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

func (c *Client) InitDKG(timeout int) (*InitDKGReply, error) {
	req := &InitDKGRequest{Roster: c.roster, Timeout: timeout}
	reply := &InitDKGReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

// Randomness asks the leader of the roster for the next round. The roster
// of the request is overwritten by the one of the client.
func (c *Client) Randomness(req *RandomnessRequest) (*RandomnessReply, error) {
	req.Roster = c.roster
	reply := &RandomnessReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}
