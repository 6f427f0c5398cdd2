// Package registry keeps the participants of a lottery round. The list is
// bounded by the capacity fixed when the round is created, holds every
// identity at most once and keeps insertion order: the position of a
// participant is the number the draw has to hit for them to win.
package registry

import (
	"github.com/dedis/noloss/sys"
	"golang.org/x/xerrors"
)

// List is the bounded participant list of a round. It does not move funds:
// the entry fee has to be collected before Enroll is called.
type List struct {
	Max     uint64
	Members []sys.Key
}

// New returns an empty list holding at most max participants.
func New(max uint64) List {
	return List{Max: max}
}

// Len returns the number of enrolled participants.
func (l *List) Len() uint64 {
	return uint64(len(l.Members))
}

// Full tells whether no more participant can be enrolled.
func (l *List) Full() bool {
	return l.Len() >= l.Max
}

// IndexOf returns the draw index of k, or -1.
func (l *List) IndexOf(k sys.Key) int {
	for i, m := range l.Members {
		if m == k {
			return i
		}
	}
	return -1
}

// Contains tells whether k is enrolled.
func (l *List) Contains(k sys.Key) bool {
	return l.IndexOf(k) >= 0
}

// Enroll appends k to the list.
func (l *List) Enroll(k sys.Key) error {
	if l.Contains(k) {
		return xerrors.Errorf("enrolling %s: %w", k.Short(), sys.ErrAlreadyAdded)
	}
	if l.Full() {
		return xerrors.Errorf("enrolling %s: %w", k.Short(), sys.ErrListFull)
	}
	l.Members = append(l.Members, k)
	return nil
}

// Evict removes k, keeping the relative order of the others.
func (l *List) Evict(k sys.Key) error {
	idx := l.IndexOf(k)
	if idx < 0 {
		return xerrors.Errorf("evicting %s: %w", k.Short(), sys.ErrNotFound)
	}
	l.Members = append(l.Members[:idx], l.Members[idx+1:]...)
	return nil
}

// At returns the participant at draw index i.
func (l *List) At(i uint64) (sys.Key, error) {
	if i >= l.Len() {
		return sys.Key{}, xerrors.Errorf("index %d of %d participants: %w",
			i, l.Len(), sys.ErrIndexOutOfRange)
	}
	return l.Members[i], nil
}
