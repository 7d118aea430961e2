package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

const (
	secretMask   = "mask"
	secretRedact = "redact"
)

// secretPatterns lists the dot paths of every secret-tagged field. Map
// keys (provider names) appear as "*".
var secretPatterns = sync.OnceValue(func() map[string]string {
	out := make(map[string]string)
	collectSecrets(reflect.TypeFor[Config](), "", out)
	return out
})

func collectSecrets(t reflect.Type, prefix string, out map[string]string) {
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		path := joinPath(prefix, name)
		if mode := f.Tag.Get("secret"); mode != "" {
			out[path] = mode
			continue
		}
		switch ft := f.Type; ft.Kind() {
		case reflect.Struct:
			collectSecrets(ft, path, out)
		case reflect.Map:
			if ft.Elem().Kind() == reflect.Struct {
				collectSecrets(ft.Elem(), path+".*", out)
			}
		}
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// secretMode reports how the value at path is hidden, or "" for plain values.
func secretMode(path string) string {
	parts := strings.Split(path, ".")
	for pattern, mode := range secretPatterns() {
		pp := strings.Split(pattern, ".")
		if len(pp) != len(parts) {
			continue
		}
		match := true
		for i := range pp {
			if pp[i] != "*" && pp[i] != parts[i] {
				match = false
				break
			}
		}
		if match {
			return mode
		}
	}
	return ""
}

// Masked returns v with secrets hidden if path names a secret field.
func Masked(path string, v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	switch secretMode(path) {
	case secretRedact:
		return "***"
	case secretMask:
		return maskString(s)
	}
	return v
}

// tree converts cfg into its JSON object form, keyed the way paths are.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return m, nil
}

// GetByPath retrieves a config value by dot path (e.g. "server.port").
// Secrets come back unmasked; callers printing them should use Masked.
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			cur = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", cur, key)
		}
	}
	return cur, nil
}

// SetByPath sets a config value by dot path, creating intermediate objects
// (e.g. a new provider entry) as needed.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, key)
		}
		parent = next
	}
	parent[parts[len(parts)-1]] = parseValue(value)

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

// parseValue turns CLI strings into bools and numbers so they decode into
// typed fields.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of cfg with every secret-tagged field hidden.
func Sanitize(cfg *Config) (*Config, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	maskTree("", m)
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &out, nil
}

func maskTree(prefix string, m map[string]any) {
	for k, v := range m {
		path := joinPath(prefix, k)
		if child, ok := v.(map[string]any); ok {
			maskTree(path, child)
			continue
		}
		m[k] = Masked(path, v)
	}
}

// maskString shows the first and last 4 chars of s.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf config path with its current value, secrets
// hidden.
func ListPaths(cfg *Config) (map[string]any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	flatten("", m, out)
	return out, nil
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := joinPath(prefix, k)
		if child, ok := v.(map[string]any); ok {
			flatten(path, child, out)
			continue
		}
		out[path] = Masked(path, v)
	}
}
