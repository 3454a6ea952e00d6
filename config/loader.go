package config

// loader.go - configuration loading from environment variables and a
// YAML file.
//
// Precedence order (highest wins):
//   1. key=value tokens  (handled by cmd/root.go)
//   2. YAML config file  (--config)
//   3. Environment variables
//   4. Defaults   (defaults.go)
//
// Every source funnels through Set, so the same validation applies
// everywhere.

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every supported environment variable, e.g.
// IPCD_SOCKET_PATH or IPCD_AUTHORISED_PEER_UID.
const EnvPrefix = "IPCD_"

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// variables override the existing value.
func LoadFromEnv(cfg *Config) error {
	for _, key := range Keys {
		v := os.Getenv(EnvPrefix + strings.ToUpper(key))
		if v == "" {
			continue
		}
		if err := Set(cfg, key, v); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
	}
	return nil
}

// LoadFile overlays the options in a YAML file onto cfg.  The file is a
// flat mapping of the same keys accepted as tokens:
//
//	socket_path: /run/ipcd.sock
//	max_connections: 32
//	authorised_peer_uid: 1000
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadYAML(cfg, data)
}

// LoadYAML is LoadFile for an in-memory document.
func LoadYAML(cfg *Config, data []byte) error {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	// Apply keys in a stable order so the partial-apply behaviour is
	// deterministic.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		node := raw[k]
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("config key %q: expected a scalar value", k)
		}
		if err := Set(cfg, k, node.Value); err != nil {
			return err
		}
	}
	return nil
}
