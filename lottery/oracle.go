package lottery

import (
	"github.com/dedis/noloss/easyrand"
	"github.com/dedis/noloss/sys"
	"github.com/dedis/noloss/vrf"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Beacon produces the rounds of a public randomness beacon. Both the
// easyrand service and its client implement it.
type Beacon interface {
	Randomness(req *easyrand.RandomnessRequest) (*easyrand.RandomnessReply, error)
}

// DeliverFunc receives the output of a request.
type DeliverFunc func(oracle sys.Key, counter uint64, raw [32]byte) error

// BeaconOracle answers randomness requests with the next round of an
// easyrand beacon. Every round is checked against the distributed key of the
// beacon before its hash is delivered.
type BeaconOracle struct {
	beacon  Beacon
	roster  *onet.Roster
	public  kyber.Point
	deliver DeliverFunc
	// Served, if set, is called with the outcome of every request, on the
	// goroutine that served it.
	Served func(req *vrf.OracleRequest, err error)
}

// NewBeaconOracle returns an oracle delivering to deliver the rounds that
// roster signs with public.
func NewBeaconOracle(beacon Beacon, roster *onet.Roster, public kyber.Point, deliver DeliverFunc) *BeaconOracle {
	return &BeaconOracle{beacon: beacon, roster: roster, public: public, deliver: deliver}
}

// RequestRandomness schedules the production of the output and returns
// immediately.
func (o *BeaconOracle) RequestRandomness(req *vrf.OracleRequest) error {
	if o.public == nil {
		return xerrors.New("beacon has no public key")
	}
	log.Lvlf2("oracle %s: request %d for client %s", req.Oracle.Short(), req.Counter, req.Client.Short())
	go func() {
		err := o.serve(req)
		if err != nil {
			log.Error("serving randomness request:", err)
		}
		if o.Served != nil {
			o.Served(req, err)
		}
	}()
	return nil
}

func (o *BeaconOracle) serve(req *vrf.OracleRequest) error {
	reply, err := o.beacon.Randomness(&easyrand.RandomnessRequest{Roster: o.roster})
	if err != nil {
		return xerrors.Errorf("beacon: %v", err)
	}
	if err := reply.Verify(o.public); err != nil {
		return xerrors.Errorf("round %d: %v", reply.Round, err)
	}
	return o.deliver(req.Oracle, req.Counter, reply.Value())
}
