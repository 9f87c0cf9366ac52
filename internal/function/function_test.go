package function

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"cronfunc/internal/config"
	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

type logLine struct {
	Level        string `json:"level"`
	Message      string `json:"message"`
	Function     string `json:"function"`
	Key          string `json:"key"`
	Found        *bool  `json:"found"`
	InvocationID string `json:"invocation_id"`
}

type captured struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captured) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captured) lines(t *testing.T) []logLine {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []logLine
	for _, raw := range strings.Split(strings.TrimSpace(c.buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var l logLine
		assert.NoError(t, json.Unmarshal([]byte(raw), &l))
		out = append(out, l)
	}
	return out
}

var fixed = time.Date(2026, 10, 16, 9, 30, 25, 0, time.UTC)

func newFunction(keys []string, lookup Lookup) (*Function, *captured) {
	c := &captured{}
	return &Function{
		Name:   "CronFunction",
		Keys:   keys,
		Lookup: lookup,
		Log:    logx.NewJSON(c, "info"),
		Clock:  func() time.Time { return fixed },
	}, c
}

func TestLogsResolvedValues(t *testing.T) {
	f, out := newFunction(
		[]string{KeyAppConfig, KeyKeyVaultSecret},
		MapLookup{KeyAppConfig: "hello", KeyKeyVaultSecret: "s3cret"},
	)
	assert.NoError(t, f.Run(context.Background()))

	lines := out.lines(t)
	assert.Equal(t, 3, len(lines))
	assert.Equal(t, "Timer trigger function executed at: 2026-10-16T09:30:25Z", lines[0].Message)
	assert.Equal(t, "AppConfigKey: hello", lines[1].Message)
	assert.Equal(t, "KeyVaultSecretKey: s3cret", lines[2].Message)
	for _, l := range lines {
		assert.Equal(t, "info", l.Level)
		assert.Equal(t, "CronFunction", l.Function)
	}
	assert.Zero(t, lines[1].Found)
}

func TestMissingKeysAreLoggedAsAbsent(t *testing.T) {
	f, out := newFunction([]string{KeyAppConfig, KeyKeyVaultSecret}, MapLookup{})
	assert.NoError(t, f.Run(context.Background()))

	lines := out.lines(t)
	assert.Equal(t, 3, len(lines))
	for i, key := range []string{KeyAppConfig, KeyKeyVaultSecret} {
		l := lines[i+1]
		assert.Equal(t, key+": ", l.Message)
		assert.Equal(t, key, l.Key)
		assert.True(t, l.Found != nil && !*l.Found)
	}
}

func TestNoKeysLogsOnlyTimerLine(t *testing.T) {
	f, out := newFunction(nil, nil)
	for range 3 {
		assert.NoError(t, f.Run(context.Background()))
	}
	lines := out.lines(t)
	assert.Equal(t, 3, len(lines))
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l.Message, "Timer trigger function executed at: "))
	}
}

func TestTimerLineIsCloseToNow(t *testing.T) {
	c := &captured{}
	f := &Function{Name: "heartbeat", Log: logx.NewJSON(c, "info")}
	before := time.Now()
	assert.NoError(t, f.Run(context.Background()))

	msg := c.lines(t)[0].Message
	ts, err := time.Parse(TimerLayout, strings.TrimPrefix(msg, "Timer trigger function executed at: "))
	assert.NoError(t, err)
	assert.True(t, ts.After(before.Add(-2*time.Second)) && ts.Before(time.Now().Add(2*time.Second)))
}

func TestProviderErrorPropagates(t *testing.T) {
	boom := errors.New("app configuration unavailable")
	calls := 0
	f, out := newFunction([]string{KeyAppConfig, KeyKeyVaultSecret}, LookupFunc(func(ctx context.Context, key string) (string, bool, error) {
		calls++
		return "", false, boom
	}))

	err := f.Run(context.Background())
	assert.IsError(t, err, boom)
	assert.Contains(t, err.Error(), `lookup "AppConfigKey"`)
	assert.Equal(t, 1, calls)
	// only the timer line was written
	assert.Equal(t, 1, len(out.lines(t)))
}

func TestKeysWithoutLookup(t *testing.T) {
	f, _ := newFunction([]string{KeyAppConfig}, nil)
	assert.IsError(t, f.Run(context.Background()), ErrNoLookup)
}

func TestInvocationFieldsFromContext(t *testing.T) {
	f, out := newFunction(nil, nil)
	ctx := engine.WithInvocation(context.Background(), engine.Invocation{ID: "inv-1", Name: "CronFunction", Attempt: 1})
	assert.NoError(t, f.Run(ctx))
	assert.Equal(t, "inv-1", out.lines(t)[0].InvocationID)
}

func TestConcurrentRuns(t *testing.T) {
	f, out := newFunction([]string{KeyAppConfig}, MapLookup{KeyAppConfig: "v"})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.Run(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, len(out.lines(t)))
}

func TestPresets(t *testing.T) {
	ps := Presets()
	assert.Equal(t, []string{"config-echo", "heartbeat"}, PresetNames())
	assert.Equal(t, "*/25 * * * * *", ps[PresetHeartbeat].Schedule)
	assert.Equal(t, 0, len(ps[PresetHeartbeat].Keys))
	assert.Equal(t, "*/60 * * * * *", ps[PresetConfigEcho].Schedule)
	assert.Equal(t, []string{"AppConfigKey", "KeyVaultSecretKey"}, ps[PresetConfigEcho].Keys)

	// callers cannot mutate the registry
	ps[PresetConfigEcho].Keys[0] = "changed"
	p, _ := LookupPreset(PresetConfigEcho)
	assert.Equal(t, "AppConfigKey", p.Keys[0])
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name string
		in   config.FunctionConfig
		want Definition
		err  string
	}{
		{
			name: "preset",
			in:   config.FunctionConfig{Name: "echo", Preset: "config-echo"},
			want: Definition{Name: "echo", Schedule: "*/60 * * * * *", Keys: []string{"AppConfigKey", "KeyVaultSecretKey"}, RetryMax: -1},
		},
		{
			name: "preset override",
			in:   config.FunctionConfig{Name: "hb", Preset: "heartbeat", Schedule: "10s", Keys: []string{"A"}, Overlap: "Allow", RetryMax: 2, Timeout: "5s", RunOnStartup: true},
			want: Definition{Name: "hb", Schedule: "10s", Keys: []string{"A"}, Overlap: engine.OverlapAllow, RetryMax: 2, Timeout: 5 * time.Second, RunOnStartup: true},
		},
		{
			name: "custom",
			in:   config.FunctionConfig{Name: "custom", Schedule: "0 */5 * * * *", Keys: []string{"X"}},
			want: Definition{Name: "custom", Schedule: "0 */5 * * * *", Keys: []string{"X"}, RetryMax: -1},
		},
		{name: "unknown preset", in: config.FunctionConfig{Name: "x", Preset: "nope"}, err: "unknown preset"},
		{name: "no schedule", in: config.FunctionConfig{Name: "x"}, err: "schedule is required"},
		{name: "bad timeout", in: config.FunctionConfig{Name: "x", Schedule: "1m", Timeout: "soon"}, err: "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromConfig(tt.in)
			if tt.err != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefinitions(t *testing.T) {
	defs, err := Definitions(&config.Config{})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(defs))
	assert.Equal(t, PresetConfigEcho, defs[0].Name)

	defs, err = Definitions(&config.Config{Functions: []config.FunctionConfig{
		{Name: "heartbeat", Preset: "heartbeat"},
		{Name: "off", Preset: "heartbeat", Disabled: true},
	}})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(defs))
	assert.Equal(t, "heartbeat", defs[0].Name)
	assert.Equal(t, engine.TaskOptions{RetryMax: -1}, defs[0].Options())
}
