package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/threadwise/internal/fault"
)

// includeKey names the files a document layers itself on top of.
const includeKey = "$include"

// LoadRaw reads a configuration file into a merged raw map. ${VAR}
// references are expanded before parsing. Files named by $include are merged
// first, so the including file wins on conflicts.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fault.New(fault.KindConfiguration, "config path is required")
	}
	l := &rawLoader{}
	raw, err := l.load(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "config.load", err)
	}
	return raw, nil
}

// rawLoader tracks the include chain being resolved.
type rawLoader struct {
	chain []string
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for i, p := range l.chain {
		if p == abs {
			return nil, fmt.Errorf("config include cycle: %s", strings.Join(append(l.chain[i:], abs), " -> "))
		}
	}
	l.chain = append(l.chain, abs)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := decodeDocument([]byte(os.ExpandEnv(string(data))), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	includes, err := includePaths(doc[includeKey])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	delete(doc, includeKey)

	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		base, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		overlay(merged, base)
	}
	overlay(merged, doc)
	return merged, nil
}

// decodeDocument parses one YAML document, or JSON5 for .json and .json5
// files. An empty document yields an empty map.
func decodeDocument(data []byte, ext string) (map[string]any, error) {
	doc := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if len(bytes.TrimSpace(data)) == 0 {
			return doc, nil
		}
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return map[string]any{}, nil
			}
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("multiple YAML documents are not supported")
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// includePaths accepts a single path or a list of paths. Blank entries are skipped.
func includePaths(v any) ([]string, error) {
	var paths []string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		paths = []string{t}
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings, got %T", includeKey, item)
			}
			paths = append(paths, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a path or a list of paths, got %T", includeKey, v)
	}

	out := paths[:0]
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// overlay deep-merges src into dst. Nested maps merge key by key, and any
// other value in src replaces the one in dst.
func overlay(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				overlay(cur, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// decodeRawConfig re-encodes the merged map and decodes it strictly, so
// unknown keys are errors.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "config.decode", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fault.Wrap(fault.KindConfiguration, "config.decode", err)
	}
	return &cfg, nil
}
