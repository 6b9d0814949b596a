package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseRaw normalizes the host configuration object, whose values are
// JSON-encoded strings. A value that is not JSON is kept as plain text.
func ParseRaw(raw map[string]string) (*AppConfig, error) {
	doc := make(map[string]any, len(raw))
	for k, v := range raw {
		doc[k] = v
	}
	return decodeDocument(doc)
}

// Parse parses a mapping document in JSON or YAML. Top-level values may be
// given either as objects or, as the host stores them, as JSON-encoded
// strings.
func Parse(data []byte) (*AppConfig, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mapping document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty mapping document", ErrConfigShape)
	}
	return decodeDocument(doc)
}

// LoadFile loads a mapping document. The file name stem becomes the
// source app id, so "42.yaml" configures source app 42.
func LoadFile(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}

	base := filepath.Base(path)
	cfg.SourceAppID = strings.TrimSuffix(base, filepath.Ext(base))
	return cfg, nil
}

func decodeDocument(doc map[string]any) (*AppConfig, error) {
	for k, v := range doc {
		if s, ok := v.(string); ok {
			doc[k] = unwrapJSONString(s)
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode mapping document: %w", err)
	}

	var raw RawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigShape, err)
	}

	return Normalize(raw)
}

// unwrapJSONString decodes a string holding a JSON object, array or string.
// Anything else, including bare numbers, is returned unchanged.
func unwrapJSONString(s string) any {
	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 || !strings.ContainsRune(`{["`, rune(trimmed[0])) || !json.Valid(trimmed) {
		return s
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return s
	}
	return v
}
