package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
	"go.trai.ch/zerr"
)

// toJSON converts a YAML document to JSON so both formats share the strict
// JSON decoder. Files without a YAML extension pass through untouched.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, zerr.Wrap(err, "yaml decode")
	}
	out, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, zerr.Wrap(err, "yaml to json")
	}
	return out, nil
}

// stringKeys rewrites map[any]any nodes (integer or bool keys) into
// map[string]any so json.Marshal accepts them.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
