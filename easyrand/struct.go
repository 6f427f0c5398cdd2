package easyrand

import (
	"crypto/sha256"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

func init() {
	network.RegisterMessages(&InitDKGRequest{}, &InitDKGReply{},
		&RandomnessRequest{}, &RandomnessReply{})
}

type InitDKGRequest struct {
	Roster *onet.Roster
	// Timeout waiting for DKG to finish, in seconds
	Timeout int
}

// InitDKGReply is the response of DKG. Public is the marshalled distributed
// public key, a point of G2.
type InitDKGReply struct {
	Public []byte
}

// RandomnessRequest is a request to get the public randomness.
type RandomnessRequest struct {
	Roster *onet.Roster
}

// RandomnessReply is the returned public randomness. Sig is the collective
// signature on Prev; use the hash of it.
type RandomnessReply struct {
	Public []byte
	Round  uint64
	Prev   []byte
	Sig    []byte
}

// PublicKey unmarshals the distributed public key.
func PublicKey(buf []byte) (kyber.Point, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("unmarshalling public key: %v", err)
	}
	return p, nil
}

// Verify checks the signature against the distributed public key pub.
func (r *RandomnessReply) Verify(pub kyber.Point) error {
	return bls.Verify(suite, pub, r.Prev, r.Sig)
}

// Value is the random output of the round.
func (r *RandomnessReply) Value() [32]byte {
	return sha256.Sum256(r.Sig)
}
