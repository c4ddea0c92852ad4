package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/logging"
	bolt "go.etcd.io/bbolt"
)

var log = logging.L("store")

var (
	bucketIgnored = []byte("ignored")
	bucketHistory = []byte("history")
)

// Store persists the ignored update ids and the install history in a bolt
// database.
type Store struct {
	db *bolt.DB
}

// HistoryEntry is one finished install attempt.
type HistoryEntry struct {
	ID          int       `json:"id"`
	PackageName string    `json:"package"`
	Version     string    `json:"version,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	Succeeded   bool      `json:"succeeded"`
	At          time.Time `json:"at"`
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIgnored, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func idKey(id int) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(id))
	return k
}

// IsIgnored reports whether id is in the ignored set.
func (s *Store) IsIgnored(id int) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketIgnored).Get(idKey(id)) != nil
		return nil
	})
	return found, err
}

// ToggleIgnored flips the membership of id and returns the new state.
func (s *Store) ToggleIgnored(id int) (bool, error) {
	var ignored bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIgnored)
		k := idKey(id)
		if b.Get(k) != nil {
			return b.Delete(k)
		}
		ignored = true
		return b.Put(k, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return false, fmt.Errorf("toggle ignored %d: %w", id, err)
	}
	log.Debug("ignored set changed", logging.KeyCorrelationID, id, "ignored", ignored)
	return ignored, nil
}

// Ignored returns the whole ignored set.
func (s *Store) Ignored() (map[int]bool, error) {
	set := make(map[int]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIgnored).ForEach(func(k, _ []byte) error {
			if len(k) == 4 {
				set[int(binary.BigEndian.Uint32(k))] = true
			}
			return nil
		})
	})
	return set, err
}

// IgnoredIDs returns the ignored set in ascending order.
func (s *Store) IgnoredIDs() ([]int, error) {
	set, err := s.Ignored()
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// Record appends e to the install history.
func (s *Store) Record(e HistoryEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, seq)
		return b.Put(k, data)
	})
}

// History returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) History(limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				log.Warn("skipping corrupt history entry", logging.KeyError, err)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}
