package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "test"))

	log.Info("hello", String("key", "AppConfigKey"), Bool("found", true), Err(errors.New("boom")))

	var m map[string]any
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "test", m["comp"])
	assert.Equal(t, "AppConfigKey", m["key"])
	assert.Equal(t, true, m["found"])
	assert.Equal(t, "boom", m["err"])
	assert.True(t, strings.HasPrefix(m["caller"].(string), "logging_test.go:"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("dropped")
	assert.Equal(t, 0, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Info("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("to file", String("k", "v"))
	log.Debug("filtered")

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")
	assert.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	assert.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `"message":"to file"`)
	assert.Contains(t, out, `"message":"now visible"`)
	assert.NotContains(t, out, "filtered")
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("WARNING")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, lvl)
	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}
