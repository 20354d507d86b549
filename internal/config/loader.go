package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rlefko/codeindex/internal/logging"
)

// Paths locates the standard configuration files for one project, following
// the new (.claude) and legacy (.claude-indexer) layouts.
type Paths struct {
	ProjectDir string
}

const (
	globalDirName       = ".claude-indexer"
	globalConfigName    = "config.json"
	legacyProjectDir    = ".claude-indexer"
	legacyProjectConfig = "config.json"
	newProjectDir       = ".claude"
	projectSettings     = "settings.json"
	projectLocal        = "settings.local.json"
	legacySettingsTxt   = "settings.txt"
)

// GlobalConfigPath returns ~/.claude-indexer/config.json.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, globalDirName, globalConfigName)
}

// ProjectConfigPath returns the effective project config file: .claude/
// settings.json if it exists, else the legacy .claude-indexer/config.json,
// else "" if neither exists. The two locations are never merged together —
// per the resolved precedence decision, whichever is found first wins
// outright.
func (p Paths) ProjectConfigPath() string {
	newPath := filepath.Join(p.ProjectDir, newProjectDir, projectSettings)
	if fileExists(newPath) {
		return newPath
	}
	legacyPath := filepath.Join(p.ProjectDir, legacyProjectDir, legacyProjectConfig)
	if fileExists(legacyPath) {
		return legacyPath
	}
	return ""
}

// LocalOverridesPath returns .claude/settings.local.json.
func (p Paths) LocalOverridesPath() string {
	return filepath.Join(p.ProjectDir, newProjectDir, projectLocal)
}

// LegacySettingsPath returns the project-root settings.txt file.
func (p Paths) LegacySettingsPath() string {
	return filepath.Join(p.ProjectDir, legacySettingsTxt)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// envMappings maps recognized environment variables onto dotted paths into
// the Config json-tag schema.
var envMappings = map[string]string{
	"OPENAI_API_KEY":           "embedding.openai.openai_api_key",
	"VOYAGE_API_KEY":           "embedding.voyage.voyage_api_key",
	"QDRANT_API_KEY":           "qdrant.qdrant_api_key",
	"QDRANT_URL":               "qdrant.qdrant_url",
	"EMBEDDING_PROVIDER":       "embedding.embedding_provider",
	"VOYAGE_MODEL":             "embedding.voyage.voyage_model",
	"CLAUDE_INDEXER_DEBUG":     "debug",
	"CLAUDE_INDEXER_VERBOSE":   "verbose",
	"CLAUDE_INDEXER_COLLECTION": "collection",
}

// legacyMappings maps the normalized legacy settings.txt keys (after
// legacyKeyMapping has applied) onto the same dotted-path schema.
var legacyMappings = map[string]string{
	"openai_api_key":       "embedding.openai.openai_api_key",
	"voyage_api_key":       "embedding.voyage.voyage_api_key",
	"qdrant_api_key":       "qdrant.qdrant_api_key",
	"qdrant_url":           "qdrant.qdrant_url",
	"embedding_provider":   "embedding.embedding_provider",
	"voyage_model":         "embedding.voyage.voyage_model",
	"indexer_debug":        "debug",
	"indexer_verbose":      "verbose",
	"debounce_seconds":     "watcher.debounce_seconds",
	"max_file_size":        "indexer.max_file_size",
	"batch_size":           "chunking.batch_size",
	"max_concurrent_files": "indexer.max_concurrent_files",
}

// Loader resolves a Config by merging seven precedence tiers, lowest to
// highest:
//
//  1. DefaultConfig()
//  2. legacy settings.txt
//  3. global ~/.claude-indexer/config.json
//  4. project config (.claude/settings.json, else legacy .claude-indexer/config.json)
//  5. local overrides (.claude/settings.local.json), then an optional
//     codeindex.yaml in the project root
//  6. recognized environment variables (a .env file is loaded first, without
//     clobbering variables already set in the process environment)
//  7. call-site dotted-path overrides
type Loader struct {
	Paths  Paths
	logger logging.Logger
}

// NewLoader creates a Loader rooted at projectDir.
func NewLoader(projectDir string) *Loader {
	return &Loader{Paths: Paths{ProjectDir: projectDir}, logger: logging.WithComponent("config")}
}

// Resolve merges all seven tiers and returns the fully validated Config.
// overrides is a flat map of dotted paths (e.g. "chunking.batch_size") to
// values, applied after everything else.
func (l *Loader) Resolve(overrides map[string]any) (*Config, error) {
	merged := map[string]any{}

	defaultsJSON, err := json.Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	var defaultsMap map[string]any
	if err := json.Unmarshal(defaultsJSON, &defaultsMap); err != nil {
		return nil, err
	}
	merged = defaultsMap

	for legacyKey, value := range loadLegacySettings(l.Paths.LegacySettingsPath()) {
		path, ok := legacyMappings[legacyKey]
		if !ok {
			continue
		}
		setDottedPath(merged, path, value)
	}

	if m := loadJSONLayer(GlobalConfigPath()); m != nil {
		merged = deepMerge(merged, m)
	}

	if projectPath := l.Paths.ProjectConfigPath(); projectPath != "" {
		l.logger.Debug("using project config", "path", projectPath)
		if m := loadJSONLayer(projectPath); m != nil {
			merged = deepMerge(merged, m)
		}
	}
	if m := loadJSONLayer(l.Paths.LocalOverridesPath()); m != nil {
		merged = deepMerge(merged, m)
	}

	if yamlPath := filepath.Join(l.Paths.ProjectDir, "codeindex.yaml"); fileExists(yamlPath) {
		if m, err := loadYAMLLayer(yamlPath); err == nil {
			merged = deepMerge(merged, m)
		} else {
			l.logger.Warn("failed to parse codeindex.yaml, ignoring", "error", err.Error())
		}
	}

	_ = godotenv.Load(filepath.Join(l.Paths.ProjectDir, ".env"))
	for envKey, path := range envMappings {
		if v, ok := os.LookupEnv(envKey); ok {
			setDottedPath(merged, path, coerceLegacyValue(v))
		}
	}

	for path, value := range overrides {
		setDottedPath(merged, path, value)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(merged); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadJSONLayer(path string) map[string]any {
	if !fileExists(path) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func loadYAMLLayer(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMerge returns a new map with override's keys recursively layered on
// top of base. Nested maps are merged key-by-key; any other value type is
// replaced outright.
func deepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if baseVal, ok := result[k]; ok {
			baseMap, baseIsMap := baseVal.(map[string]any)
			overrideMap, overrideIsMap := v.(map[string]any)
			if baseIsMap && overrideIsMap {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// setDottedPath writes value into target at the nested location described
// by a "a.b.c" path, creating intermediate maps as needed.
func setDottedPath(target map[string]any, dotted string, value any) {
	parts := strings.Split(dotted, ".")
	cur := target
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
}
