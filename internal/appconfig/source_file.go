package appconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"cronfunc/internal/config"
	logx "cronfunc/pkg/logx"
)

// FileSource serves settings from a local JSON or YAML file. Two layouts are
// accepted:
//
//	AppConfigKey: hello
//	KeyVaultSecretKey:
//	  value: '{"uri":"https://v.vault.azure.net/secrets/s"}'
//	  content_type: application/vnd.microsoft.appconfig.keyvaultref+json;charset=utf-8
//
// or a list of {key, value, label, content_type} entries, where the same key
// may appear once per label.
type FileSource struct {
	path  string
	label string
	log   logx.Logger

	mu       sync.RWMutex
	settings map[string]Setting
	onChange []func()
}

// NewFileSource loads path once. Call Watch to follow later edits.
func NewFileSource(path, label string, log logx.Logger) (*FileSource, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &FileSource{path: path, label: label, log: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Setting(_ context.Context, key string) (Setting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[key]
	return st, ok, nil
}

func (s *FileSource) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Reload re-reads the file. On error the previous settings are kept.
func (s *FileSource) Reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("settings file: %w", err)
	}
	settings, err := parseSettings(s.path, b, s.label)
	if err != nil {
		return fmt.Errorf("settings file %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.settings = settings
	hooks := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Watch reloads the file on change until ctx is done.
func (s *FileSource) Watch(ctx context.Context) error {
	return config.WatchFile(ctx, s.path, s.log, func() {
		if err := s.Reload(); err != nil {
			s.log.Warn("settings reload failed", logx.String("path", s.path), logx.Err(err))
			return
		}
		s.mu.RLock()
		n := len(s.settings)
		s.mu.RUnlock()
		s.log.Info("settings reloaded", logx.String("path", s.path), logx.Int("keys", n))
	})
}

func parseSettings(path string, b []byte, label string) (map[string]Setting, error) {
	jb, _, err := config.ToJSON(path, b)
	if err != nil {
		return nil, err
	}
	jb = bytes.TrimSpace(jb)
	out := map[string]Setting{}

	if len(jb) > 0 && jb[0] == '[' {
		var list []Setting
		dec := json.NewDecoder(bytes.NewReader(jb))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&list); err != nil {
			return nil, err
		}
		for i, st := range list {
			if st.Key == "" {
				return nil, fmt.Errorf("entry %d: key is required", i)
			}
			if st.Label != label {
				continue
			}
			if _, dup := out[st.Key]; dup {
				return nil, fmt.Errorf("entry %d: duplicate key %q for label %q", i, st.Key, label)
			}
			out[st.Key] = st
		}
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jb, &raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if bytes.Equal(v, []byte("null")) {
			continue
		}
		if len(v) > 0 && v[0] != '{' {
			// scalars: strings as-is, numbers and bools by their literal text
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				str = string(v)
			}
			out[k] = Setting{Key: k, Value: str}
			continue
		}
		var st struct {
			Value       string `json:"value"`
			Label       string `json:"label"`
			ContentType string `json:"content_type"`
		}
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&st); err != nil {
			return nil, fmt.Errorf("key %q: expected a string or {value, label, content_type}: %w", k, err)
		}
		if st.Label != "" && st.Label != label {
			continue
		}
		out[k] = Setting{Key: k, Value: st.Value, Label: st.Label, ContentType: st.ContentType}
	}
	return out, nil
}
