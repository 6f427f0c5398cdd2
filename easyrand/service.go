package easyrand

/*
The service.go defines what to do for each API-call. This part of the service
runs on the node.

The nodes of the roster first run a DKG. Every call to Randomness then signs
the next message of a hash chain with the distributed key: the message of
round r is r followed by the signature of round r-1. The signatures are
unpredictable until a threshold of nodes cooperates and publicly
verifiable.
*/

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/dedis/noloss/easyrand/protocol"
	dkgprotocol "go.dedis.ch/cothority/v3/dkg/pedersen"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	dkg "go.dedis.ch/kyber/v3/share/dkg/pedersen"
	vss "go.dedis.ch/kyber/v3/share/vss/pedersen"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var serviceID onet.ServiceID
var suite = bn256.NewSuite()
var vssSuite = suite.G2().(vss.Suite)

const genesisMsg = "genesis_msg"

// ServiceName is the name of the easyrand service
const ServiceName = "easyrand"

func init() {
	var err error
	serviceID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
}

// EasyRand holds the internal state of the service.
type EasyRand struct {
	*onet.ServiceProcessor

	keypair *key.Pair

	sync.Mutex
	distKeyStore *dkg.DistKeyShare
	pubPoly      *share.PubPoly
	blocks       [][]byte
}

// InitDKG starts the DKG protocol.
func (s *EasyRand) InitDKG(req *InitDKGRequest) (*InitDKGReply, error) {
	tree := req.Roster.GenerateStar()
	pi, err := s.CreateProtocol(protocol.DKGProtoName, tree)
	if err != nil {
		return nil, err
	}
	setup := pi.(*dkgprotocol.Setup)
	setup.Wait = true

	if err := pi.Start(); err != nil {
		return nil, err
	}
	timeout := time.Duration(req.Timeout) * time.Second
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-setup.Finished:
		if err := s.storeShare(setup); err != nil {
			return nil, err
		}
	case <-time.After(timeout):
		return nil, xerrors.New("dkg did not finish")
	}
	public, err := s.public()
	if err != nil {
		return nil, err
	}
	return &InitDKGReply{Public: public}, nil
}

// Randomness signs the next message of the chain and returns the signature.
func (s *EasyRand) Randomness(req *RandomnessRequest) (*RandomnessReply, error) {
	public, err := s.public()
	if err != nil {
		return nil, err
	}
	pi, err := s.CreateProtocol(protocol.SignProtoName, req.Roster.GenerateStar())
	if err != nil {
		return nil, err
	}
	signPi := pi.(*protocol.SignProtocol)
	s.Lock()
	signPi.Msg = createNextMsg(s.blocks)
	s.Unlock()
	if err := pi.Start(); err != nil {
		return nil, err
	}

	select {
	case sig := <-signPi.FinalSignature:
		round := s.appendBlock(sig)
		return &RandomnessReply{
			Public: public,
			Round:  round,
			Prev:   signPi.Msg,
			Sig:    sig,
		}, nil
	case <-time.After(signPi.Timeout):
		return nil, xerrors.New("timeout waiting for final signature")
	}
}

// NewProtocol is a callback for creating protocols on non-root nodes.
func (s *EasyRand) NewProtocol(tn *onet.TreeNodeInstance, conf *onet.GenericConfig) (onet.ProtocolInstance, error) {
	log.Lvl3(s.ServerIdentity(), tn.ProtocolName(), conf)
	switch tn.ProtocolName() {
	case protocol.DKGProtoName:
		pi, err := dkgprotocol.CustomSetup(tn, vssSuite, s.keypair)
		if err != nil {
			return nil, err
		}
		setup := pi.(*dkgprotocol.Setup)

		go func() {
			<-setup.Finished
			if err := s.storeShare(setup); err != nil {
				log.Error(s.ServerIdentity(), err)
			}
		}()
		return pi, nil
	case protocol.SignProtoName:
		pi, err := s.newSignProtocol(tn)
		if err != nil {
			return nil, err
		}
		signProto := pi.(*protocol.SignProtocol)

		go func() {
			select {
			case sig := <-signProto.FinalSignature:
				s.appendBlock(sig)
			case <-time.After(signProto.Timeout):
				log.Error(s.ServerIdentity(), "time out while waiting for signature")
			}
		}()
		return pi, nil
	default:
		return nil, xerrors.New("invalid protocol")
	}
}

func (s *EasyRand) newSignProtocol(tn *onet.TreeNodeInstance) (onet.ProtocolInstance, error) {
	s.Lock()
	dks, pubPoly := s.distKeyStore, s.pubPoly
	s.Unlock()
	if dks == nil {
		return nil, xerrors.New("no distributed key: run the dkg first")
	}
	pi, err := protocol.NewSignProtocol(tn, dks.PriShare(), pubPoly, suite)
	if err != nil {
		return nil, err
	}
	pi.(*protocol.SignProtocol).Verify = s.verify
	return pi, nil
}

func (s *EasyRand) storeShare(setup *dkgprotocol.Setup) error {
	_, dks, err := setup.SharedSecret()
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	s.distKeyStore = dks
	s.pubPoly = share.NewPubPoly(vssSuite, vssSuite.Point().Base(), dks.Commitments())
	return nil
}

func (s *EasyRand) public() ([]byte, error) {
	s.Lock()
	defer s.Unlock()
	if s.pubPoly == nil {
		return nil, xerrors.New("no distributed key: run the dkg first")
	}
	return s.pubPoly.Commit().MarshalBinary()
}

func (s *EasyRand) appendBlock(sig []byte) uint64 {
	s.Lock()
	defer s.Unlock()
	s.blocks = append(s.blocks, sig)
	return uint64(len(s.blocks) - 1)
}

func (s *EasyRand) verify(msg []byte) error {
	s.Lock()
	defer s.Unlock()
	if !bytes.Equal(msg, createNextMsg(s.blocks)) {
		return xerrors.New("bad message")
	}
	return nil
}

func createNextMsg(blocks [][]byte) []byte {
	round := len(blocks)
	if round == 0 {
		return []byte(genesisMsg)
	}
	rBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(rBuf, uint64(round))
	return append(rBuf, blocks[len(blocks)-1]...)
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &EasyRand{
		ServiceProcessor: onet.NewServiceProcessor(c),
		keypair:          key.NewKeyPair(vssSuite),
	}
	if _, err := s.ProtocolRegister(protocol.DKGProtoName, func(n *onet.TreeNodeInstance) (onet.ProtocolInstance, error) {
		return dkgprotocol.CustomSetup(n, vssSuite, s.keypair)
	}); err != nil {
		return nil, err
	}
	if _, err := s.ProtocolRegister(protocol.SignProtoName, s.newSignProtocol); err != nil {
		return nil, err
	}
	if err := s.RegisterHandlers(s.InitDKG, s.Randomness); err != nil {
		return nil, err
	}
	return s, nil
}
