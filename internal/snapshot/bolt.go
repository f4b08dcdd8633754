package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	entriesBucket = []byte("entries")
	metaBucket    = []byte("meta")
	versionKey    = []byte("version")
)

// BoltCodec stores one record per key in a bbolt database. The whole set
// is replaced inside a single write transaction.
//
// Records are filed under an 8-byte big-endian sequence number and carry
// the store key inside, so empty keys and keys over bbolt's 32 KiB limit
// are stored like any other.
type BoltCodec struct{}

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func openBolt(path string, readOnly bool) (*bolt.DB, error) {
	return bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: readOnly})
}

func (BoltCodec) Write(path string, records []Record) error {
	db, err := openBolt(path, false)
	if err != nil {
		return ioErr("open", path, err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(entriesBucket) != nil {
			if err := tx.DeleteBucket(entriesBucket); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(entriesBucket)
		if err != nil {
			return err
		}
		for _, rec := range records {
			val, err := json.Marshal(rec)
			if err != nil {
				return errors.Wrap(ErrFormat, err.Error())
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), val); err != nil {
				return err
			}
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		return meta.Put(versionKey, []byte(strconv.Itoa(FormatVersion)))
	})
	if err != nil {
		if errors.Is(err, ErrFormat) {
			return err
		}
		return ioErr("write", path, err)
	}
	return nil
}

func (BoltCodec) Read(path string) ([]Record, error) {
	// bbolt would create a missing file; a missing snapshot must stay missing.
	if _, err := os.Stat(path); err != nil {
		return nil, ioErr("stat", path, err)
	}

	db, err := openBolt(path, true)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, bolt.ErrTimeout) {
			return nil, ioErr("open", path, err)
		}
		return nil, errors.Wrapf(ErrFormat, "%s: %v", path, err)
	}
	defer db.Close()

	var records []Record
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return errors.Wrap(ErrFormat, "missing meta bucket")
		}
		if v := string(meta.Get(versionKey)); v != strconv.Itoa(FormatVersion) {
			return errors.Wrapf(ErrFormat, "unsupported version %q", v)
		}

		b := tx.Bucket(entriesBucket)
		if b == nil {
			return errors.Wrap(ErrFormat, "missing entries bucket")
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(ErrFormat, "record %x: %v", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrFormat) {
			return nil, errors.Wrap(err, path)
		}
		return nil, ioErr("read", path, err)
	}
	return records, nil
}
