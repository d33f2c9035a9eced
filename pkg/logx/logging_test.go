package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "push"))

	log.Warn("push failed", String("client", "c1"), Int("batch", 2), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "push failed", m["message"])
	assert.Equal(t, "push", m["comp"])
	assert.Equal(t, "c1", m["client"])
	assert.EqualValues(t, 2, m["batch"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logging_test.go")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Debug("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Info("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"trace":   zerolog.TraceLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in, zerolog.InfoLevel), in)
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	svc, log := New(Config{Level: "error", Format: "json", File: FileConfig{Enabled: true, Path: t.TempDir() + "/app.log"}})
	defer svc.Close()
	assert.False(t, log.Enabled(LevelInfo))

	svc.Apply(Config{Level: "debug", Format: "json", File: FileConfig{Enabled: true, Path: t.TempDir() + "/app.log"}})
	assert.True(t, log.Enabled(LevelDebug))
}
