// Package storage keeps the lottery records in a bbolt bucket. Records are
// located by their derived key and grouped by kind in nested buckets. Every
// operation runs inside a single bbolt transaction: when it returns an error
// nothing it wrote is kept.
package storage

import (
	"github.com/dedis/noloss/sys"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// Record kinds.
const (
	KindRound   = "round"
	KindClient  = "client"
	KindOracle  = "oracle"
	KindToken   = "token"
	KindReserve = "reserve"
)

// ErrNotFound is returned by Get when no record is stored under the key.
var ErrNotFound = xerrors.New("record not found")

// Store wraps a bbolt database and the top-level bucket the records live in.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

// New returns a store using the given bucket of db, creating it if needed.
// Onet services pass the pair returned by GetAdditionalBucket.
func New(db *bbolt.DB, bucket []byte) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("creating bucket %s: %v", bucket, err)
	}
	return &Store{db: db, bucket: bucket}, nil
}

// Open creates or opens a bbolt file at path. It is used by tests and by
// processes that run the coordinator outside of a conode.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, xerrors.Errorf("opening db: %v", err)
	}
	return New(db, []byte("noloss"))
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a read-write transaction. The transaction is committed
// only when fn returns nil.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&Tx{root: btx.Bucket(s.bucket), writable: true})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&Tx{root: btx.Bucket(s.bucket)})
	})
}

// Tx gives typed access to the records during one transaction.
type Tx struct {
	root     *bbolt.Bucket
	writable bool
}

func (t *Tx) kind(kind string) (*bbolt.Bucket, error) {
	if t.root == nil {
		return nil, xerrors.New("missing root bucket")
	}
	b := t.root.Bucket([]byte(kind))
	if b != nil || !t.writable {
		return b, nil
	}
	return t.root.CreateBucket([]byte(kind))
}

// Get decodes the record stored under key into v.
func (t *Tx) Get(kind string, key sys.Key, v interface{}) error {
	b, err := t.kind(kind)
	if err != nil {
		return err
	}
	if b == nil {
		return ErrNotFound
	}
	buf := b.Get(key.Slice())
	if buf == nil {
		return ErrNotFound
	}
	if err := protobuf.Decode(buf, v); err != nil {
		return xerrors.Errorf("decoding %s %s: %v", kind, key.Short(), err)
	}
	return nil
}

// Has tells whether a record is stored under key.
func (t *Tx) Has(kind string, key sys.Key) bool {
	b, err := t.kind(kind)
	if err != nil || b == nil {
		return false
	}
	return b.Get(key.Slice()) != nil
}

// Put encodes v and stores it under key, replacing any previous record.
func (t *Tx) Put(kind string, key sys.Key, v interface{}) error {
	if !t.writable {
		return xerrors.New("read-only transaction")
	}
	b, err := t.kind(kind)
	if err != nil {
		return err
	}
	buf, err := protobuf.Encode(v)
	if err != nil {
		return xerrors.Errorf("encoding %s %s: %v", kind, key.Short(), err)
	}
	return b.Put(key.Slice(), buf)
}

// Delete removes the record stored under key. Deleting a missing record is
// not an error.
func (t *Tx) Delete(kind string, key sys.Key) error {
	if !t.writable {
		return xerrors.New("read-only transaction")
	}
	b, err := t.kind(kind)
	if err != nil {
		return err
	}
	log.Lvlf3("deleting %s %s", kind, key.Short())
	return b.Delete(key.Slice())
}

// Keys lists the keys of every record of the given kind.
func (t *Tx) Keys(kind string) ([]sys.Key, error) {
	b, err := t.kind(kind)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	var keys []sys.Key
	err = b.ForEach(func(k, _ []byte) error {
		var key sys.Key
		copy(key[:], k)
		keys = append(keys, key)
		return nil
	})
	return keys, err
}
