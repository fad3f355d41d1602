package logsink

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/RobertWHurst/objenc"
	"github.com/RobertWHurst/objenc/store"
)

func newSink(t *testing.T, opts ...Option) *Sink {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, "", opts...)
}

func TestSinkStoresRecords(t *testing.T) {
	sink := newSink(t)
	logger := zerolog.New(sink)

	logger.Info().Str("user", "ada").Msg("signed in")
	logger.Error().Msg("disk full")
	logger.Info().Msg("signed out")

	count, err := sink.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	all, err := sink.Logs("", 0, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "signed in", gjson.GetBytes(all[0], "message").String())
	assert.Equal(t, "ada", gjson.GetBytes(all[0], "user").String())

	errors, err := sink.Logs("ERROR", 10, true)
	require.NoError(t, err)
	require.Len(t, errors, 1)
	assert.Equal(t, "disk full", gjson.GetBytes(errors[0], "message").String())

	newest, err := sink.Logs("info", 1, true)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "signed out", gjson.GetBytes(newest[0], "message").String())
}

func TestSinkClearKeepsCount(t *testing.T) {
	sink := newSink(t)
	logger := zerolog.New(sink)

	logger.Warn().Msg("one")
	logger.Warn().Msg("two")

	removed, err := sink.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	logs, err := sink.Logs("", 0, false)
	require.NoError(t, err)
	assert.Empty(t, logs)

	count, err := sink.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestSinkMinLevel(t *testing.T) {
	sink := newSink(t, WithMinLevel(zerolog.WarnLevel))
	logger := zerolog.New(sink)

	logger.Debug().Msg("noise")
	logger.Warn().Msg("signal")

	logs, err := sink.Logs("", 0, false)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "signal", gjson.GetBytes(logs[0], "message").String())
}

func TestSinkReportsFailures(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var fallback bytes.Buffer
	sink := New(s, "logs", WithFallback(&fallback))

	n, err := sink.Write([]byte(`{"level":"info","message":"lost"}` + "\n"))
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Contains(t, fallback.String(), "logsink: storing log record")
}

func TestSinkRejectsNonJSON(t *testing.T) {
	var fallback bytes.Buffer
	sink := newSink(t, WithFallback(&fallback))

	_, err := sink.Write([]byte("plain text\n"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(fallback.String(), "not JSON"))

	count, err := sink.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

type account struct {
	Name    string
	Created time.Time
	Balance float64
}

func TestInstall(t *testing.T) {
	previous := zerolog.InterfaceMarshalFunc
	t.Cleanup(func() { zerolog.InterfaceMarshalFunc = previous })

	Install(objenc.New())

	var out bytes.Buffer
	logger := zerolog.New(&out)
	logger.Info().
		Interface("account", account{Name: "ada", Created: time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), Balance: 1.5}).
		Interface("tags", map[string]struct{}{"x": {}}).
		Msg("opened")

	line := out.Bytes()
	assert.Equal(t, "ada", gjson.GetBytes(line, "account.Name").String())
	assert.Equal(t, "2024-02-03T00:00:00Z", gjson.GetBytes(line, "account.Created").String())
	assert.Equal(t, `{"x"}`, gjson.GetBytes(line, "tags").String())

	out.Reset()
	logger.Info().Interface("bad", math.Inf(1)).Msg("overflow")
	assert.Contains(t, gjson.GetBytes(out.Bytes(), "bad").String(), "unsupported type")
}
