// Package store persists serialized documents in a bbolt file, one bucket per
// collection. Every collection keeps an insert counter that survives Clear.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"

	"github.com/RobertWHurst/objenc"
	"github.com/RobertWHurst/objenc/encoders/jsonencoder"
)

var (
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("store: closed")
	// ErrInvalidCollection is returned for an empty or reserved collection name.
	ErrInvalidCollection = errors.New("store: invalid collection name")
)

// countersBucket holds one Counter per collection.
var countersBucket = []byte("__counters__")

const (
	formatRaw  byte = 0
	formatZstd byte = 1
)

// Counter is the bookkeeping kept for each collection.
type Counter struct {
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Record is one stored document.
type Record struct {
	ID   ulid.ULID
	Data []byte
}

// Time returns the insertion time encoded in the record's id.
func (r Record) Time() time.Time {
	return ulid.Time(r.ID.Time())
}

// FindOptions narrows Find.
type FindOptions struct {
	// Limit caps the number of records returned. Zero means no limit.
	Limit int
	// Descending returns the newest records first.
	Descending bool
	// Match, when set, keeps only the records it reports true for.
	Match func(data []byte) bool
}

// Option configures a Store.
type Option func(*Store)

// WithCompression stores documents zstd-compressed.
func WithCompression(enabled bool) Option {
	return func(s *Store) {
		s.compress = enabled
	}
}

// WithEncoder sets the encoder InsertValue uses. The default is a JSON
// encoder with default options.
func WithEncoder(encoder objenc.Encoder) Option {
	return func(s *Store) {
		s.encoder = encoder
	}
}

// WithTimeout sets how long Open waits for the file lock.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		s.timeout = timeout
	}
}

// Store is a document sink backed by bbolt. It is safe for concurrent use.
type Store struct {
	db       *bbolt.DB
	encoder  objenc.Encoder
	compress bool
	timeout  time.Duration

	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// Open opens or creates the store file at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{timeout: time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if s.encoder == nil {
		s.encoder = jsonencoder.New()
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: s.timeout})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	s.db = db

	// Decoding is always available so compressed files stay readable after
	// compression is turned off.
	if s.zdec, err = zstd.NewReader(nil); err != nil {
		db.Close()
		return nil, err
	}
	if s.compress {
		if s.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
			s.zdec.Close()
			db.Close()
			return nil, err
		}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(countersBucket)
		return err
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the path of the underlying file.
func (s *Store) Path() string {
	return s.db.Path()
}

// Close closes the file. Further calls return ErrClosed.
func (s *Store) Close() error {
	if s.zenc != nil {
		s.zenc.Close()
	}
	if s.zdec != nil {
		s.zdec.Close()
	}
	return s.db.Close()
}

// Insert stores an already serialized document and bumps the collection's
// counter.
func (s *Store) Insert(collection string, doc []byte) (ulid.ULID, error) {
	if err := checkCollection(collection); err != nil {
		return ulid.ULID{}, err
	}
	id := ulid.Make()
	value := s.pack(doc)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		if err := bucket.Put(id.Bytes(), value); err != nil {
			return err
		}
		return bumpCounter(tx, collection, ulid.Time(id.Time()))
	})
	if err != nil {
		return ulid.ULID{}, s.wrap(err)
	}
	return id, nil
}

// InsertValue serializes v with the store's encoder and inserts it.
func (s *Store) InsertValue(collection string, v any) (ulid.ULID, error) {
	doc, err := s.encoder.Encode(v)
	if err != nil {
		return ulid.ULID{}, err
	}
	return s.Insert(collection, doc)
}

// Count returns how many documents were ever inserted into collection.
func (s *Store) Count(collection string) (int64, error) {
	counter, err := s.Counter(collection)
	return counter.Count, err
}

// Counter returns the bookkeeping of collection. A collection never
// written to has a zero Counter.
func (s *Store) Counter(collection string) (Counter, error) {
	var counter Counter
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(countersBucket).Get([]byte(collection))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &counter)
	})
	return counter, s.wrap(err)
}

// Find returns the documents of collection in insertion order, or newest
// first with Descending.
func (s *Store) Find(collection string, opts FindOptions) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		first, next := c.First, c.Next
		if opts.Descending {
			first, next = c.Last, c.Prev
		}
		for k, v := first(); k != nil; k, v = next() {
			data, err := s.unpack(v)
			if err != nil {
				return err
			}
			if opts.Match != nil && !opts.Match(data) {
				continue
			}
			var id ulid.ULID
			copy(id[:], k)
			records = append(records, Record{ID: id, Data: data})
			if opts.Limit > 0 && len(records) == opts.Limit {
				return nil
			}
		}
		return nil
	})
	return records, s.wrap(err)
}

// Clear deletes every document of collection and returns how many were
// removed. The counter is kept.
func (s *Store) Clear(collection string) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		removed = bucket.Stats().KeyN
		return tx.DeleteBucket([]byte(collection))
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	return removed, nil
}

// Collections lists the collections holding at least one document.
func (s *Store) Collections() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if !bytes.Equal(name, countersBucket) {
				names = append(names, string(name))
			}
			return nil
		})
	})
	return names, s.wrap(err)
}

func bumpCounter(tx *bbolt.Tx, collection string, at time.Time) error {
	counters := tx.Bucket(countersBucket)
	var counter Counter
	if raw := counters.Get([]byte(collection)); raw != nil {
		if err := json.Unmarshal(raw, &counter); err != nil {
			return err
		}
	}
	counter.Count++
	counter.LastUpdated = at.UTC()
	raw, err := json.Marshal(counter)
	if err != nil {
		return err
	}
	return counters.Put([]byte(collection), raw)
}

func (s *Store) pack(doc []byte) []byte {
	if s.zenc == nil {
		return append([]byte{formatRaw}, doc...)
	}
	return s.zenc.EncodeAll(doc, []byte{formatZstd})
}

func (s *Store) unpack(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, errors.New("store: empty record")
	}
	switch value[0] {
	case formatRaw:
		return append([]byte(nil), value[1:]...), nil
	case formatZstd:
		return s.zdec.DecodeAll(value[1:], nil)
	}
	return nil, fmt.Errorf("store: unknown record format %d", value[0])
}

func (s *Store) wrap(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func checkCollection(collection string) error {
	if collection == "" || collection == string(countersBucket) {
		return ErrInvalidCollection
	}
	return nil
}
