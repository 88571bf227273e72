package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/copycat/copycat/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta       = []byte("meta")
	bucketMembership = []byte("membership")

	keyTerm        = []byte("current_term")
	keyVotedFor    = []byte("voted_for")
	keyHasVote     = []byte("has_vote")
	keyMembersBlob = []byte("members")
)

// BoltStore implements Store using a single bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the stable store at
// {dataDir}/copycat.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "copycat.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMeta, bucketMembership} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) LoadState() (uint64, uint32, bool, error) {
	var term uint64
	var votedFor uint32
	var hasVote bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if v := b.Get(keyTerm); v != nil {
			term = binary.BigEndian.Uint64(v)
		}
		if v := b.Get(keyVotedFor); v != nil {
			votedFor = binary.BigEndian.Uint32(v)
		}
		hasVote = b.Get(keyHasVote) != nil
		return nil
	})
	return term, votedFor, hasVote, err
}

// SaveVote persists term and votedFor in a single transaction so the
// vote-per-term invariant can never observe a torn write.
func (s *BoltStore) SaveVote(term uint64, votedFor uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		var termBuf [8]byte
		binary.BigEndian.PutUint64(termBuf[:], term)
		if err := b.Put(keyTerm, termBuf[:]); err != nil {
			return err
		}
		var voteBuf [4]byte
		binary.BigEndian.PutUint32(voteBuf[:], votedFor)
		if err := b.Put(keyVotedFor, voteBuf[:]); err != nil {
			return err
		}
		return b.Put(keyHasVote, []byte{1})
	})
}

func (s *BoltStore) SaveTerm(term uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		var termBuf [8]byte
		binary.BigEndian.PutUint64(termBuf[:], term)
		if err := b.Put(keyTerm, termBuf[:]); err != nil {
			return err
		}
		return b.Delete(keyHasVote)
	})
}

func (s *BoltStore) SaveMembership(members []types.Member) error {
	data, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("storage: marshal membership: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMembership).Put(keyMembersBlob, data)
	})
}

func (s *BoltStore) LoadMembership() ([]types.Member, error) {
	var members []types.Member
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMembership).Get(keyMembersBlob)
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &members)
	})
	return members, err
}
