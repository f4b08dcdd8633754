package snapshot

import (
	"encoding/json"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"minikv/internal/metrics"
	"minikv/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedStore(t *testing.T) (*store.Store, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	st := store.NewStore(metrics.NewRegistry(), nil,
		store.WithClock(clock.Now), store.WithReapInterval(time.Hour))
	t.Cleanup(st.Close)
	return st, clock
}

func fill(st *store.Store) {
	st.Set("age", store.Int(42))
	st.Set("pi", store.Float(3.25))
	st.Set("name", store.String("mini redis"))
	st.Set("flag", store.Bool(false))
	st.SetWithTTL("session", store.String("tok"), 10*time.Second)
	st.SetWithTTL("whole", store.Float(2), 30*time.Second)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, name := range []string{"autosave.json", "autosave.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			src, _ := newClockedStore(t)
			fill(src)

			n, err := Save(src, path)
			require.NoError(t, err)
			assert.Equal(t, 6, n)

			dst, clock := newClockedStore(t)
			n, err = Load(dst, path)
			require.NoError(t, err)
			assert.Equal(t, 6, n)

			assert.Equal(t, src.Dump(), dst.Dump())

			v, ok := dst.Get("whole")
			require.True(t, ok)
			assert.Equal(t, store.KindFloat, v.Kind(), "float stays float even when integral")

			clock.Advance(9 * time.Second)
			assert.True(t, dst.Exists("session"))
			clock.Advance(time.Second)
			assert.False(t, dst.Exists("session"))
			assert.True(t, dst.Exists("age"))
		})
	}
}

func TestSave_ExcludesDeadEntries(t *testing.T) {
	st, clock := newClockedStore(t)
	st.Set("alive", store.Int(1))
	st.SetWithTTL("dead", store.Int(2), time.Second)
	st.SetWithTTL("zero", store.Int(3), 0)
	clock.Advance(time.Second)

	path := filepath.Join(t.TempDir(), "snap.json")
	n, err := Save(st, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := JSONCodec{}.Read(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alive", records[0].Key)
	assert.False(t, records[0].HasExpiry)
	assert.Nil(t, records[0].TTLRemaining)
}

func TestSave_TruncatesRemaining(t *testing.T) {
	st, clock := newClockedStore(t)
	st.SetWithTTL("k", store.String("v"), 5*time.Second)
	clock.Advance(1500 * time.Millisecond)

	path := filepath.Join(t.TempDir(), "snap.json")
	_, err := Save(st, path)
	require.NoError(t, err)

	records, err := JSONCodec{}.Read(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].HasExpiry)
	require.NotNil(t, records[0].TTLRemaining)
	assert.Equal(t, int64(3), *records[0].TTLRemaining)
}

func TestSave_ReplacesPreviousFile(t *testing.T) {
	for _, name := range []string{"s.json", "s.bolt"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			st, _ := newClockedStore(t)
			fill(st)
			_, err := Save(st, path)
			require.NoError(t, err)

			st.Delete("age")
			st.Delete("pi")
			_, err = Save(st, path)
			require.NoError(t, err)

			records, err := CodecFor(path).Read(path)
			require.NoError(t, err)
			assert.Len(t, records, 4)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	for _, name := range []string{"none.json", "none.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			st, _ := newClockedStore(t)
			st.Set("keep", store.Int(1))

			_, err := Load(st, path)
			require.Error(t, err)
			assert.ErrorIs(t, err, fs.ErrNotExist)
			assert.ErrorIs(t, err, ErrIO)
			assert.True(t, st.Exists("keep"))

			_, statErr := os.Stat(path)
			assert.ErrorIs(t, statErr, fs.ErrNotExist, "load never creates the file")
		})
	}
}

func TestSave_UnwritableLocation(t *testing.T) {
	for _, name := range []string{"x.json", "x.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing-dir", name)
			st, _ := newClockedStore(t)
			fill(st)

			_, err := Save(st, path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIO)
			assert.NotErrorIs(t, err, ErrFormat)
			assert.Equal(t, 6, st.Size(), "a failed save leaves the store untouched")
		})
	}
}

func TestLoad_UnknownTagLeavesStoreIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	doc := `{
    "version": 1,
    "entries": [
        {"key": "ok", "type": "int", "value": 1, "has_expiry": false, "ttl_remaining": null},
        {"key": "bad", "type": "list", "value": [1, 2], "has_expiry": false, "ttl_remaining": null}
    ]
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	st, _ := newClockedStore(t)
	st.Set("prior", store.String("content"))

	_, err := Load(st, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
	assert.NotErrorIs(t, err, ErrIO)

	assert.Equal(t, map[string]store.Value{"prior": store.String("content")}, st.Dump())
}

func TestSaveLoad_KeysBoltCannotHold(t *testing.T) {
	long := strings.Repeat("k", 40000)

	for _, name := range []string{"edge.json", "edge.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			src, _ := newClockedStore(t)
			src.Set("", store.String("empty key"))
			src.SetWithTTL(long, store.Int(9), time.Minute)
			src.Set("plain", store.Bool(true))

			n, err := Save(src, path)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			dst, _ := newClockedStore(t)
			n, err = Load(dst, path)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			assert.Equal(t, src.Dump(), dst.Dump())
		})
	}
}

func TestLoad_UnknownTagInBoltFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucket(metaBucket)
		if err != nil {
			return err
		}
		if err := meta.Put(versionKey, []byte("1")); err != nil {
			return err
		}
		b, err := tx.CreateBucket(entriesBucket)
		if err != nil {
			return err
		}
		rec, _ := json.Marshal(Record{Key: "k", Type: "set", Value: json.RawMessage(`"x"`)})
		return b.Put([]byte("k"), rec)
	}))
	require.NoError(t, db.Close())

	st, _ := newClockedStore(t)
	st.Set("prior", store.Int(7))

	_, err = Load(st, path)
	assert.ErrorIs(t, err, ErrFormat)
	assert.True(t, st.Exists("prior"))
}

func TestLoad_MalformedJSON(t *testing.T) {
	cases := map[string]string{
		"truncated":          `{"version": 1, "entries": [{"key": "a", "type": "int"`,
		"wrong version":      `{"version": 7, "entries": []}`,
		"type mismatch":      `{"version": 1, "entries": [{"key": "a", "type": "int", "value": "x", "has_expiry": false}]}`,
		"fractional int":     `{"version": 1, "entries": [{"key": "a", "type": "int", "value": 1.5, "has_expiry": false}]}`,
		"null value":         `{"version": 1, "entries": [{"key": "a", "type": "bool", "value": null, "has_expiry": false}]}`,
		"expiry without ttl": `{"version": 1, "entries": [{"key": "a", "type": "int", "value": 1, "has_expiry": true, "ttl_remaining": null}]}`,
		"duplicate key":      `{"version": 1, "entries": [{"key": "a", "type": "int", "value": 1}, {"key": "a", "type": "int", "value": 2}]}`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snap.json")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

			st, _ := newClockedStore(t)
			_, err := Load(st, path)
			assert.ErrorIs(t, err, ErrFormat)
			assert.Equal(t, 0, st.Size())
		})
	}
}

func TestLoad_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	src, _ := newClockedStore(t)
	src.Set("from-file", store.Bool(true))
	_, err := Save(src, path)
	require.NoError(t, err)

	dst, _ := newClockedStore(t)
	dst.Set("stale", store.Int(1))
	_, err = Load(dst, path)
	require.NoError(t, err)

	assert.False(t, dst.Exists("stale"))
	assert.True(t, dst.Exists("from-file"))
}

func TestDecode_DropsRecordsOutOfTime(t *testing.T) {
	now := time.Now()
	zero, negative, one := int64(0), int64(-4), int64(1)

	entries, err := Decode(now, []Record{
		{Key: "zero", Type: "int", Value: json.RawMessage("1"), HasExpiry: true, TTLRemaining: &zero},
		{Key: "negative", Type: "int", Value: json.RawMessage("1"), HasExpiry: true, TTLRemaining: &negative},
		{Key: "one", Type: "int", Value: json.RawMessage("1"), HasExpiry: true, TTLRemaining: &one},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, now.Add(time.Second), entries["one"].ExpiresAt)
}

func TestDecode_RejectsTTLBeyondDuration(t *testing.T) {
	now := time.Now()
	for _, secs := range []int64{store.MaxTTLSeconds + 1, math.MaxInt64, -store.MaxTTLSeconds - 1} {
		secs := secs
		_, err := Decode(now, []Record{
			{Key: "k", Type: "int", Value: json.RawMessage("1"), HasExpiry: true, TTLRemaining: &secs},
		})
		assert.ErrorIs(t, err, ErrFormat, "ttl_remaining %d", secs)
	}

	limit := store.MaxTTLSeconds
	entries, err := Decode(now, []Record{
		{Key: "k", Type: "int", Value: json.RawMessage("1"), HasExpiry: true, TTLRemaining: &limit},
	})
	require.NoError(t, err)
	assert.True(t, entries["k"].ExpiresAt.After(now))
}

func TestEncode_RejectsNonFiniteFloat(t *testing.T) {
	_, err := Encode(time.Now(), map[string]store.Entry{
		"nan": {Value: store.Float(math.NaN())},
	})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestCodecFor(t *testing.T) {
	assert.IsType(t, JSONCodec{}, CodecFor("autosave.json"))
	assert.IsType(t, JSONCodec{}, CodecFor("noext"))
	assert.IsType(t, BoltCodec{}, CodecFor("data.DB"))
	assert.IsType(t, BoltCodec{}, CodecFor("data.bolt"))
}
