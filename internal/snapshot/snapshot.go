// Package snapshot persists the alive content of a store and restores it.
//
// A snapshot holds one record per alive key. Expiry is stored as the whole
// seconds remaining at save time, never as an absolute instant, so a
// snapshot stays meaningful across restarts and clock changes.
package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"minikv/internal/store"

	"github.com/pkg/errors"
)

var (
	// ErrFormat reports persisted data that cannot be turned back into entries.
	ErrFormat = errors.New("snapshot: malformed data")
	// ErrIO reports a failure of the underlying medium.
	ErrIO = errors.New("snapshot: i/o failure")
)

// ioError keeps the underlying cause reachable (fs.ErrNotExist,
// fs.ErrPermission, ...) while also matching ErrIO.
type ioError struct {
	op   string
	path string
	err  error
}

func (e *ioError) Error() string {
	return fmt.Sprintf("snapshot: %s %s: %v", e.op, e.path, e.err)
}

func (e *ioError) Unwrap() error { return e.err }

func (e *ioError) Is(target error) bool { return target == ErrIO }

func ioErr(op, path string, err error) error {
	return &ioError{op: op, path: path, err: err}
}

// Record is the persisted form of one entry.
type Record struct {
	Key          string          `json:"key"`
	Type         string          `json:"type"`
	Value        json.RawMessage `json:"value"`
	HasExpiry    bool            `json:"has_expiry"`
	TTLRemaining *int64          `json:"ttl_remaining"`
}

// Codec reads and writes a full set of records at a location.
// Write must replace the previous content as a whole.
type Codec interface {
	Write(path string, records []Record) error
	Read(path string) ([]Record, error)
}

// CodecFor picks the codec from the file extension: .db and .bolt files
// are bbolt databases, everything else is JSON.
func CodecFor(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".bolt":
		return BoltCodec{}
	default:
		return JSONCodec{}
	}
}

// Save writes every alive entry of st to path and returns how many were
// written. The store lock is held for the whole write.
func Save(st *store.Store, path string) (int, error) {
	codec := CodecFor(path)
	var written int
	err := st.Export(func(now time.Time, entries map[string]store.Entry) error {
		records, err := Encode(now, entries)
		if err != nil {
			return err
		}
		if err := codec.Write(path, records); err != nil {
			return err
		}
		written = len(records)
		return nil
	})
	return written, err
}

// Load replaces the content of st with the snapshot at path and returns
// how many alive keys were restored. On any error the store is left as it
// was.
func Load(st *store.Store, path string) (int, error) {
	codec := CodecFor(path)
	var restored int
	err := st.Replace(func(now time.Time) (map[string]store.Entry, error) {
		records, err := codec.Read(path)
		if err != nil {
			return nil, err
		}
		entries, err := Decode(now, records)
		if err != nil {
			return nil, err
		}
		restored = len(entries)
		return entries, nil
	})
	return restored, err
}

// Encode converts alive entries into records sorted by key. Entries dead
// at now are skipped.
func Encode(now time.Time, entries map[string]store.Entry) ([]Record, error) {
	keys := make([]string, 0, len(entries))
	for k, e := range entries {
		if !e.IsExpired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		e := entries[k]
		raw, err := encodeValue(e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", k)
		}
		rec := Record{Key: k, Type: e.Value.Kind().String(), Value: raw}
		if left, ok := e.Remaining(now); ok {
			secs := int64(left / time.Second)
			rec.HasExpiry = true
			rec.TTLRemaining = &secs
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeValue(v store.Value) (json.RawMessage, error) {
	if !v.IsValid() {
		return nil, errors.Wrap(ErrFormat, "invalid value")
	}
	if f, ok := v.AsFloat(); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, errors.Wrapf(ErrFormat, "float %v is not representable", f)
	}
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}
	return raw, nil
}

// Decode rebuilds entries from records. Expiry becomes now plus the stored
// remaining seconds; records already out of time are dropped. Any bad
// record fails the whole decode.
func Decode(now time.Time, records []Record) (map[string]store.Entry, error) {
	out := make(map[string]store.Entry, len(records))
	seen := make(map[string]struct{}, len(records))

	for i, rec := range records {
		if _, dup := seen[rec.Key]; dup {
			return nil, errors.Wrapf(ErrFormat, "record %d: duplicate key %q", i, rec.Key)
		}
		seen[rec.Key] = struct{}{}

		v, err := decodeValue(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}

		entry := store.Entry{Value: v}
		if rec.HasExpiry {
			if rec.TTLRemaining == nil {
				return nil, errors.Wrapf(ErrFormat, "record %d: key %q has expiry but no ttl_remaining", i, rec.Key)
			}
			if secs := *rec.TTLRemaining; secs > store.MaxTTLSeconds || secs < -store.MaxTTLSeconds {
				return nil, errors.Wrapf(ErrFormat, "record %d: key %q: ttl_remaining %d out of range", i, rec.Key, secs)
			}
			entry.ExpiresAt = now.Add(time.Duration(*rec.TTLRemaining) * time.Second)
			if entry.IsExpired(now) {
				continue
			}
		}
		out[rec.Key] = entry
	}
	return out, nil
}

func decodeValue(rec Record) (store.Value, error) {
	kind, ok := store.ParseKind(rec.Type)
	if !ok {
		return store.Value{}, errors.Wrapf(ErrFormat, "key %q: unknown type %q", rec.Key, rec.Type)
	}
	if len(rec.Value) == 0 || string(rec.Value) == "null" {
		return store.Value{}, errors.Wrapf(ErrFormat, "key %q: missing value", rec.Key)
	}

	var err error
	var v store.Value
	switch kind {
	case store.KindInt:
		var i int64
		err = json.Unmarshal(rec.Value, &i)
		v = store.Int(i)
	case store.KindFloat:
		var f float64
		err = json.Unmarshal(rec.Value, &f)
		v = store.Float(f)
	case store.KindString:
		var s string
		err = json.Unmarshal(rec.Value, &s)
		v = store.String(s)
	case store.KindBool:
		var b bool
		err = json.Unmarshal(rec.Value, &b)
		v = store.Bool(b)
	}
	if err != nil {
		return store.Value{}, errors.Wrapf(ErrFormat, "key %q: %s value: %v", rec.Key, rec.Type, err)
	}
	return v, nil
}
