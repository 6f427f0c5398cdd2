package sys

import (
	"crypto/sha256"
	"encoding/hex"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// Seeds used to derive the storage keys of the records. A record is always
// located by hashing its seed together with the identities it belongs to, so
// no index is needed to find it again.
const (
	SeedRound       = "lottery_info"
	SeedClient      = "STATE"
	SeedVaultSigner = "vault_signer"
	SeedLiquidity   = "liquidity"
	SeedCollateral  = "collateral"
	SeedToken       = "token"
	SeedReserve     = "reserve"
)

// Key identifies a participant, an authority or a stored record.
type Key [32]byte

// DeriveKey returns sha256(seed || parts...).
func DeriveKey(seed string, parts ...[]byte) Key {
	h := sha256.New()
	h.Write([]byte(seed))
	for _, p := range parts {
		h.Write(p)
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// KeyFromPoint returns the identity bound to a public key.
func KeyFromPoint(p kyber.Point) (Key, error) {
	buf, err := p.MarshalBinary()
	if err != nil {
		return Key{}, xerrors.Errorf("couldn't marshal point: %v", err)
	}
	return Key(sha256.Sum256(buf)), nil
}

// KeyFromHex parses the hexadecimal form returned by String.
func KeyFromHex(s string) (Key, error) {
	buf, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, xerrors.Errorf("decoding key: %v", err)
	}
	if len(buf) != len(Key{}) {
		return Key{}, xerrors.Errorf("invalid key length %d", len(buf))
	}
	var k Key
	copy(k[:], buf)
	return k, nil
}

func (k Key) Slice() []byte {
	return k[:]
}

func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short is used in log lines.
func (k Key) Short() string {
	return hex.EncodeToString(k[:4])
}
