package lottery

import (
	"github.com/dedis/noloss/registry"
	"github.com/dedis/noloss/storage"
	"github.com/dedis/noloss/sys"
	"golang.org/x/xerrors"
)

// Status of a round.
type Status int32

const (
	StatusOpen Status = iota
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Round is the stored state of a lottery round. EntryFee and
// MaxParticipants never change once the round exists. Winner is the zero key
// until the draw.
type Round struct {
	Key             sys.Key
	Name            string
	Authority       sys.Key
	Oracle          sys.Key
	Client          sys.Key
	EntryFee        uint64
	MaxParticipants uint64
	Participants    registry.List
	Winner          sys.Key
	Status          Status
	DrawRequested   bool
	Created         int64
}

// RoundKey returns the key of the round called name of authority.
func RoundKey(authority sys.Key, name string) sys.Key {
	return sys.DeriveKey(sys.SeedRound, authority.Slice(), []byte(name))
}

// WinnerKey returns the winner, if one was drawn.
func (r *Round) WinnerKey() (sys.Key, bool) {
	return r.Winner, r.Status == StatusCompleted
}

// acceptsParticipants tells whether the list may still change before the
// draw.
func (r *Round) acceptsParticipants() error {
	if r.Status != StatusOpen {
		return xerrors.Errorf("round %s is %s: %w", r.Key.Short(), r.Status, sys.ErrInvalidStatus)
	}
	if r.DrawRequested {
		return xerrors.Errorf("round %s is drawing: %w", r.Key.Short(), sys.ErrInvalidStatus)
	}
	return nil
}

func loadRound(tx *storage.Tx, key sys.Key) (*Round, error) {
	r := &Round{}
	if err := tx.Get(storage.KindRound, key, r); err != nil {
		return nil, xerrors.Errorf("round %s: %w", key.Short(), err)
	}
	return r, nil
}

func (r *Round) store(tx *storage.Tx) error {
	return tx.Put(storage.KindRound, r.Key, r)
}
