package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestNew_LevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Service: "opwire", Level: "warn", Out: &buf})

	l.Info().Msg("dropped")
	l.Warn().Str("k", "v").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "opwire", line["service"])
	assert.Equal(t, "v", line["k"])
}

func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	l := New(Options{Level: "loud", Out: &bytes.Buffer{}})
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestKgoLogger(t *testing.T) {
	var buf bytes.Buffer
	k := Kgo(New(Options{Level: "debug", Out: &buf}))

	assert.Equal(t, kgo.LogLevelDebug, k.Level())
	k.Log(kgo.LogLevelWarn, "metadata refresh", "broker", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kgo", line["component"])
	assert.Equal(t, "warn", line["level"])
	assert.EqualValues(t, 1, line["broker"])
}

func TestBadgerLogger_TrimsNewline(t *testing.T) {
	var buf bytes.Buffer
	b := Badger(New(Options{Level: "info", Out: &buf}))
	b.Warningf("value log %d\n", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "value log 3", line["message"])
}
