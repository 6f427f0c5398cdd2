package registry

import (
	"fmt"
	"testing"

	"github.com/dedis/noloss/sys"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
	"pgregory.net/rapid"
)

func participant(i int) sys.Key {
	return sys.DeriveKey("participant", []byte(fmt.Sprint(i)))
}

func TestList_Enroll(t *testing.T) {
	l := New(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Enroll(participant(i)))
	}
	require.True(t, l.Full())

	err := l.Enroll(participant(5))
	require.True(t, xerrors.Is(err, sys.ErrListFull))

	// duplicates are reported before capacity
	err = l.Enroll(participant(2))
	require.True(t, xerrors.Is(err, sys.ErrAlreadyAdded))
	require.Equal(t, uint64(5), l.Len())

	for i := 0; i < 5; i++ {
		k, err := l.At(uint64(i))
		require.NoError(t, err)
		require.Equal(t, participant(i), k)
	}
	_, err = l.At(5)
	require.True(t, xerrors.Is(err, sys.ErrIndexOutOfRange))
}

func TestList_Evict(t *testing.T) {
	l := New(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Enroll(participant(i)))
	}
	require.NoError(t, l.Evict(participant(1)))
	require.Equal(t, []sys.Key{participant(0), participant(2), participant(3)}, l.Members)

	err := l.Evict(participant(1))
	require.True(t, xerrors.Is(err, sys.ErrNotFound))

	// room was made, so the evicted participant may come back at the end
	require.NoError(t, l.Enroll(participant(1)))
	require.Equal(t, 3, l.IndexOf(participant(1)))
}

func TestList_Empty(t *testing.T) {
	l := New(0)
	err := l.Enroll(participant(0))
	require.True(t, xerrors.Is(err, sys.ErrListFull))
	_, err = l.At(0)
	require.Error(t, err)
}

// Any sequence of enroll and evict calls keeps the list bounded and free of
// duplicates, and an enroll fails exactly when the identity is present or
// the list is full.
func TestList_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.Uint64Range(0, 8).Draw(t, "max")
		l := New(max)
		model := map[sys.Key]bool{}
		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			k := participant(rapid.IntRange(0, 12).Draw(t, "who"))
			if rapid.Bool().Draw(t, "enroll") {
				err := l.Enroll(k)
				switch {
				case model[k]:
					if !xerrors.Is(err, sys.ErrAlreadyAdded) {
						t.Fatalf("expected AlreadyAdded, got %v", err)
					}
				case uint64(len(model)) == max:
					if !xerrors.Is(err, sys.ErrListFull) {
						t.Fatalf("expected ListFull, got %v", err)
					}
				default:
					if err != nil {
						t.Fatalf("unexpected error: %v", err)
					}
					model[k] = true
				}
			} else {
				err := l.Evict(k)
				if model[k] {
					if err != nil {
						t.Fatalf("unexpected error: %v", err)
					}
					delete(model, k)
				} else if !xerrors.Is(err, sys.ErrNotFound) {
					t.Fatalf("expected NotFound, got %v", err)
				}
			}
			if l.Len() > max {
				t.Fatalf("%d participants for a capacity of %d", l.Len(), max)
			}
			seen := map[sys.Key]bool{}
			for _, m := range l.Members {
				if seen[m] {
					t.Fatalf("duplicate participant %s", m.Short())
				}
				seen[m] = true
			}
			if len(seen) != len(model) {
				t.Fatalf("list has %d members, expected %d", len(seen), len(model))
			}
		}
	})
}
