package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	logx "cronfunc/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
app_config:
  sources: [azure, file]
  label: prod
  settings_file: ./settings.yaml
  refresh_interval: 30s
functions:
  - name: CronFunction
    schedule: "*/60 * * * * *"
    keys: [AppConfigKey, KeyVaultSecretKey]
  - name: Heartbeat
    preset: heartbeat
    overlap: allow
`

func TestParseYAML(t *testing.T) {
	cfg, err := ParseBytes("cronfunc.yaml", []byte(sampleYAML))
	assert.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"azure", "file"}, cfg.AppConfig.Sources)
	assert.Equal(t, 2, len(cfg.Functions))
	assert.Equal(t, []string{"AppConfigKey", "KeyVaultSecretKey"}, cfg.Functions[0].Keys)
	assert.Equal(t, "heartbeat", cfg.Functions[1].Preset)
	assert.True(t, cfg.SchedulerEnabled())
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	_, err := ParseBytes("cronfunc.json", []byte(`{"logging":{"level":"info"},"telegram":{}}`))
	assert.Error(t, err)
}

func TestParseJSONRejectsTrailingData(t *testing.T) {
	_, err := ParseBytes("cronfunc.json", []byte(`{} {}`))
	assert.Error(t, err)
}

func TestParseEmptyYAML(t *testing.T) {
	cfg, err := ParseBytes("empty.yml", []byte("\n"))
	assert.NoError(t, err)
	assert.Equal(t, 0, len(cfg.Functions))
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "level", doc: `{"logging":{"level":"loud"}}`},
		{name: "timezone", doc: `{"scheduler":{"timezone":"Mars/Olympus"}}`},
		{name: "workers", doc: `{"task_engine":{"workers":-1}}`},
		{name: "timeout", doc: `{"task_engine":{"default_timeout":"soon"}}`},
		{name: "source", doc: `{"app_config":{"sources":["vault"]}}`},
		{name: "storage driver", doc: `{"storage":{"driver":"postgres"}}`},
		{name: "sqlite path", doc: `{"storage":{"driver":"sqlite"}}`},
		{name: "missing name", doc: `{"functions":[{"schedule":"@every 1s"}]}`},
		{name: "duplicate", doc: `{"functions":[{"name":"a","schedule":"@every 1s"},{"name":"a","schedule":"@every 2s"}]}`},
		{name: "no schedule", doc: `{"functions":[{"name":"a"}]}`},
		{name: "overlap", doc: `{"functions":[{"name":"a","schedule":"@every 1s","overlap":"queue"}]}`},
		{name: "empty key", doc: `{"functions":[{"name":"a","schedule":"@every 1s","keys":[""]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes("c.json", []byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 30*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseDurationOrDefault("x", "0s", 30*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	_, err = ParseDurationOrDefault("x", "-1s", 0)
	assert.Error(t, err)
}

func TestFromEnviron(t *testing.T) {
	b := FromEnviron([]string{
		"AppConfigEndpoint= https://example.azconfig.io ",
		"CRONFUNC_CONFIG=/etc/cronfunc.yaml",
		"MALFORMED",
		"APP_AppConfigKey=hello=world",
	})
	assert.Equal(t, "https://example.azconfig.io", b.AppConfigEndpoint)
	assert.Equal(t, "/etc/cronfunc.yaml", b.ConfigPath)
	assert.Equal(t, "hello=world", b.Env["APP_AppConfigKey"])

	assert.Equal(t, "https://example.azconfig.io", b.Endpoint(&Config{}))
	cfg := &Config{AppConfig: AppConfigConfig{Endpoint: "https://other.azconfig.io"}}
	assert.Equal(t, "https://other.azconfig.io", b.Endpoint(cfg))
}

func TestManagerDefaultWithoutPath(t *testing.T) {
	m := NewManager("")
	cfg, err := m.Load()
	assert.NoError(t, err)
	assert.True(t, cfg.Logging.Console)
	assert.NoError(t, m.Watch(context.Background()))
}

func TestManagerReloadPublishesOnlyChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cronfunc.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewManager(path)
	_, err := m.Load()
	assert.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.Reload(context.Background())
	assert.NoError(t, err)
	assert.False(t, published)

	assert.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
	published, err = m.Reload(context.Background())
	assert.NoError(t, err)
	assert.True(t, published)

	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
	default:
		t.Fatal("expected a published config")
	}
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestManagerReloadValidatorRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cronfunc.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
	m := NewManager(path)
	_, err := m.Load()
	assert.NoError(t, err)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		return os.ErrInvalid
	})

	assert.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o600))
	_, err = m.Reload(context.Background())
	assert.IsError(t, err, os.ErrInvalid)
	assert.Equal(t, "", m.Get().Logging.Level)
}

func TestWatchFileDetectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- WatchFile(ctx, path, logx.Nop(), func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	deadline := time.After(5 * time.Second)
	// slower than the debounce window so a reload can fire between writes
	tick := time.NewTicker(400 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-changed:
			cancel()
			assert.NoError(t, <-done)
			return
		case <-tick.C:
			// keep writing until the watcher is up
			assert.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))
		case <-deadline:
			t.Fatal("no change notification")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Logging: LoggingConfig{Level: "info"}}
	b := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Functions: []FunctionConfig{{Name: "x", Schedule: "@every 1s"}},
	}
	sections, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"logging", "functions"}, sections)
	assert.True(t, len(attrs) > 0)

	sections, _ = SummarizeConfigChange(b, b)
	assert.Equal(t, 0, len(sections))
}
