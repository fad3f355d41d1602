// Package logsink persists zerolog records into a store collection and reads
// them back by level.
package logsink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/RobertWHurst/objenc"
	"github.com/RobertWHurst/objenc/encoders/jsonencoder"
	"github.com/RobertWHurst/objenc/store"
)

// DefaultCollection is the collection used when none is given.
const DefaultCollection = "logs"

// Option configures a Sink.
type Option func(*Sink)

// WithFallback sets where persistence failures are reported. The default
// is os.Stderr.
func WithFallback(w io.Writer) Option {
	return func(s *Sink) {
		s.fallback = w
	}
}

// WithMinLevel drops records below level before they reach the store.
func WithMinLevel(level zerolog.Level) Option {
	return func(s *Sink) {
		s.minLevel = level
	}
}

// Sink is a zerolog.LevelWriter writing each record into a store
// collection. A record that cannot be stored is reported to the fallback
// writer; the logging call itself never fails.
type Sink struct {
	store      *store.Store
	collection string
	minLevel   zerolog.Level

	fallbackMu sync.Mutex
	fallback   io.Writer
}

var _ zerolog.LevelWriter = &Sink{}

// New creates a sink writing into collection of s. An empty collection
// selects DefaultCollection.
func New(s *store.Store, collection string, opts ...Option) *Sink {
	if collection == "" {
		collection = DefaultCollection
	}
	sink := &Sink{
		store:      s,
		collection: collection,
		minLevel:   zerolog.TraceLevel,
		fallback:   os.Stderr,
	}
	for _, opt := range opts {
		opt(sink)
	}
	return sink
}

// Write stores one record whose level is read from the record itself.
func (s *Sink) Write(p []byte) (int, error) {
	level, err := zerolog.ParseLevel(gjson.GetBytes(p, zerolog.LevelFieldName).String())
	if err != nil {
		level = zerolog.NoLevel
	}
	return s.WriteLevel(level, p)
}

// WriteLevel stores one record.
func (s *Sink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < s.minLevel {
		return len(p), nil
	}
	record := bytes.TrimSpace(p)
	if !gjson.ValidBytes(record) {
		s.report(fmt.Errorf("record is not JSON: %q", record))
		return len(p), nil
	}
	if _, err := s.store.Insert(s.collection, record); err != nil {
		s.report(err)
	}
	return len(p), nil
}

func (s *Sink) report(err error) {
	s.fallbackMu.Lock()
	defer s.fallbackMu.Unlock()
	fmt.Fprintf(s.fallback, "logsink: storing log record: %v\n", err)
}

// Count returns how many records were ever stored, cleared ones included.
func (s *Sink) Count() (int64, error) {
	return s.store.Count(s.collection)
}

// Logs returns up to limit raw records, newest first when descending. An
// empty level returns every level. A limit below 1 returns everything.
func (s *Sink) Logs(level string, limit int, descending bool) ([][]byte, error) {
	opts := store.FindOptions{Limit: limit, Descending: descending}
	if level != "" {
		want := strings.ToLower(level)
		opts.Match = func(data []byte) bool {
			return strings.ToLower(gjson.GetBytes(data, zerolog.LevelFieldName).String()) == want
		}
	}
	records, err := s.store.Find(s.collection, opts)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(records))
	for i, r := range records {
		out[i] = r.Data
	}
	return out, nil
}

// Clear deletes the stored records and returns how many were removed.
func (s *Sink) Clear() (int, error) {
	return s.store.Clear(s.collection)
}

// Install routes values logged with Interface, Fields and similar through
// the dispatch chain of enc, so any Go value can be logged.
func Install(enc *objenc.ObjectEncoder) {
	writer := jsonencoder.NewWithObjectEncoder(enc)
	zerolog.InterfaceMarshalFunc = writer.Encode
}
