package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	watermarkBucket = "watermarks"
	seenPrefix      = "seen:"
	idValueBytes    = 8
)

// boltLedger implements Ledger backed by BoltDB. Each subscription key owns
// its own bucket, so cross-subscription writes never contend on shared keys.
type boltLedger struct {
	db         *bolt.DB
	maxEntries int
}

// openBoltLedger initializes a BoltDB-backed ledger.
func openBoltLedger(path string, opts LedgerOptions) (Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(watermarkBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init watermark bucket: %w", err)
	}

	return &boltLedger{db: db, maxEntries: opts.MaxEntries}, nil
}

// Close closes the BoltDB ledger.
func (b *boltLedger) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// HasSeen reports whether the work was already delivered for the key. Works
// at or below the watermark count as seen even after eviction; the watermark
// is the authoritative "nothing older needs re-checking" boundary.
func (b *boltLedger) HasSeen(key string, workID uint64) (bool, error) {
	var seen bool
	err := b.db.View(func(tx *bolt.Tx) error {
		if wm := readWatermark(tx, key); workID <= wm && wm > 0 {
			seen = true
			return nil
		}
		bucket := tx.Bucket(seenBucketName(key))
		if bucket == nil {
			return nil
		}
		seen = bucket.Get(encodeID(workID)) != nil
		return nil
	})
	return seen, err
}

// MarkSeen records the identifier and advances the watermark as one
// transaction, then applies the eviction policy.
func (b *boltLedger) MarkSeen(key string, workID uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(seenBucketName(key))
		if err != nil {
			return fmt.Errorf("create seen bucket: %w", err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		if err := bucket.Put(encodeID(workID), encodeID(seq)); err != nil {
			return err
		}

		if wm := readWatermark(tx, key); workID > wm {
			wmBucket := tx.Bucket([]byte(watermarkBucket))
			if wmBucket == nil {
				return fmt.Errorf("watermark bucket missing")
			}
			if err := wmBucket.Put([]byte(key), encodeID(workID)); err != nil {
				return err
			}
		}

		return b.evictOldest(bucket, readWatermark(tx, key))
	})
}

// Watermark returns the forward boundary for the key; zero when unset.
func (b *boltLedger) Watermark(key string) (uint64, error) {
	var wm uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		wm = readWatermark(tx, key)
		return nil
	})
	return wm, err
}

// evictOldest trims the delivered set to maxEntries, dropping the
// oldest-inserted identifiers first. Identifiers above the watermark are
// never evicted.
func (b *boltLedger) evictOldest(bucket *bolt.Bucket, watermark uint64) error {
	if b.maxEntries <= 0 {
		return nil
	}
	count := bucket.Stats().KeyN + 1 // +1: stats lag the pending Put in this tx
	excess := count - b.maxEntries
	if excess <= 0 {
		return nil
	}

	type entry struct {
		id  uint64
		seq uint64
	}
	var entries []entry
	cursor := bucket.Cursor()
	for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
		id := decodeID(k)
		if id > watermark {
			continue
		}
		entries = append(entries, entry{id: id, seq: decodeID(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	for i := 0; i < len(entries) && excess > 0; i++ {
		if err := bucket.Delete(encodeID(entries[i].id)); err != nil {
			return err
		}
		excess--
	}
	return nil
}

func seenBucketName(key string) []byte {
	return []byte(seenPrefix + key)
}

func readWatermark(tx *bolt.Tx, key string) uint64 {
	bucket := tx.Bucket([]byte(watermarkBucket))
	if bucket == nil {
		return 0
	}
	value := bucket.Get([]byte(key))
	if len(value) != idValueBytes {
		return 0
	}
	return binary.BigEndian.Uint64(value)
}

func encodeID(id uint64) []byte {
	buf := make([]byte, idValueBytes)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func decodeID(value []byte) uint64 {
	if len(value) != idValueBytes {
		return 0
	}
	return binary.BigEndian.Uint64(value)
}
