package appconfig

import (
	"context"
	"strings"
)

// EnvSource reads settings from an environment snapshot. Hierarchical keys
// ("Section:Key") also match the "Section__Key" spelling used where ':' is
// not allowed in variable names.
type EnvSource struct {
	env    map[string]string
	prefix string
}

func NewEnvSource(env map[string]string, prefix string) *EnvSource {
	cp := make(map[string]string, len(env))
	for k, v := range env {
		cp[k] = v
	}
	return &EnvSource{env: cp, prefix: prefix}
}

func (s *EnvSource) Name() string { return "env" }

func (s *EnvSource) Setting(_ context.Context, key string) (Setting, bool, error) {
	for _, name := range []string{key, strings.ReplaceAll(key, ":", "__")} {
		if v, ok := s.env[s.prefix+name]; ok {
			return Setting{Key: key, Value: v}, true, nil
		}
	}
	return Setting{}, false, nil
}
