package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// DefaultEnvMapping maps environment variables onto dotted config paths.
var DefaultEnvMapping = map[string]string{
	"LL":                         "application.log_level",
	"PORT":                       "server.port",
	"IP_DB":                      "remote.host",
	"PORT_DB":                    "remote.port",
	"DB_URL":                     "remote.base_url",
	"DIR_VIDEO_STORAGE":          "storage.video_dir",
	"DIR_VIDEO_MOVEMENT_STORAGE": "storage.movement_dir",
	"STATE_DIR":                  "state.dir",
}

// Load reads the YAML config at path (empty path means defaults only), applies
// environment overrides, validates the merged document against the embedded
// JSON Schema and decodes it on top of Default().
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, DefaultEnvMapping)
}

func LoadWithEnv(path string, envMapping map[string]string) (*Config, error) {
	doc := map[string]interface{}{}
	if path != "" {
		yb, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(yb, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
	}

	applyEnvOverrides(doc, envMapping)

	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	merged, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal merged config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(merged, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Application.LogLevel == "warning" {
		cfg.Application.LogLevel = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func validateDocument(doc map[string]interface{}) error {
	jsonCompatible, err := toJSONCompatible(doc)
	if err != nil {
		return fmt.Errorf("convert yaml->json compatible: %w", err)
	}
	jb, err := json.Marshal(jsonCompatible)
	if err != nil {
		return fmt.Errorf("marshal to json: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(jb))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for _, e := range result.Errors() {
			sb.WriteString("- ")
			sb.WriteString(e.String())
			sb.WriteString("\n")
		}
		return fmt.Errorf("config validation failed:\n%s", sb.String())
	}
	return nil
}

// intPaths are the dotted paths whose environment values must be decoded as integers.
var intPaths = map[string]bool{
	"server.port": true,
	"remote.port": true,
}

// applyEnvOverrides sets each mapped, non-empty environment variable at its dotted path.
// Values for intPaths that are not integers are left as strings so schema validation rejects them.
func applyEnvOverrides(cfg map[string]interface{}, mapping map[string]string) {
	for env, path := range mapping {
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			continue
		}
		if intPaths[path] {
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				setNestedField(cfg, path, i)
				continue
			}
		}
		setNestedField(cfg, path, v)
	}
}

// setNestedField sets value at dotted path (e.g. "remote.port") creating maps as needed.
func setNestedField(m map[string]interface{}, dotted string, value interface{}) {
	parts := strings.Split(dotted, ".")
	last := len(parts) - 1
	cur := m
	for i, p := range parts {
		if i == last {
			cur[p] = value
			return
		}
		next, exists := cur[p]
		if !exists {
			nm := make(map[string]interface{})
			cur[p] = nm
			cur = nm
			continue
		}
		switch typed := next.(type) {
		case map[string]interface{}:
			cur = typed
		default:
			nm := make(map[string]interface{})
			cur[p] = nm
			cur = nm
		}
	}
}

// toJSONCompatible converts yaml-parsed structures (with map[interface{}]interface{}) into map[string]interface{} recursively.
func toJSONCompatible(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			m[k] = conv
		}
		return m, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			m[fmt.Sprintf("%v", k)] = conv
		}
		return m, nil
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			arr[i] = conv
		}
		return arr, nil
	default:
		return val, nil
	}
}
