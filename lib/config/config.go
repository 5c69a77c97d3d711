// Package config loads layered application configuration: struct
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/fthsrlk/MovieApp-ML/lib/engine"
)

// EnvPrefix namespaces the environment variables read by the loader.
// MOVIEAPP_TMDB_API_KEY overrides tmdb.api_key, and so on.
const EnvPrefix = "MOVIEAPP_"

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "MOVIEAPP_CONFIG"

// defaultConfigPaths are searched in order; the first existing file wins.
var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/movieapp/config.yaml",
}

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	TMDb     TMDbConfig     `koanf:"tmdb"`
	Plex     PlexConfig     `koanf:"plex"`
	OpenAI   OpenAIConfig   `koanf:"openai"`
	Engine   EngineConfig   `koanf:"engine"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures the sqlite store.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// TMDbConfig configures the TMDb metadata client.
type TMDbConfig struct {
	APIKey   string `koanf:"api_key"`
	Language string `koanf:"language"`
}

// PlexConfig configures the optional Plex catalog source.
type PlexConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Token   string `koanf:"token"`
}

// OpenAIConfig configures the optional ingest-time tag enricher.
type OpenAIConfig struct {
	Enabled bool   `koanf:"enabled"`
	APIKey  string `koanf:"api_key"`
}

// EngineConfig bundles the recommendation engine tunables. The blend
// weights and the neighbor cap are deliberately visible configuration.
type EngineConfig struct {
	ModelDir      string                     `koanf:"model_dir"`
	MovieLensDir  string                     `koanf:"movielens_dir"`
	Content       engine.ContentConfig       `koanf:"content"`
	Collaborative engine.CollaborativeConfig `koanf:"collaborative"`
	Hybrid        engine.HybridConfig        `koanf:"hybrid"`
}

// defaultConfig returns the built-in defaults, overridden by file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Path: "movieapp.db"},
		TMDb:     TMDbConfig{Language: "en-US"},
		Engine: EngineConfig{
			ModelDir:      "models-data",
			Content:       engine.DefaultContentConfig(),
			Collaborative: engine.DefaultCollaborativeConfig(),
			Hybrid:        engine.DefaultHybridConfig(),
		},
	}
}

// Load builds the configuration from defaults, the first config file
// found, and MOVIEAPP_-prefixed environment variables, in that order of
// precedence (environment wins).
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envTransform maps MOVIEAPP_TMDB_API_KEY to tmdb.api_key. The engine
// subsections are matched explicitly so their nested keys, for example
// MOVIEAPP_ENGINE_CONTENT_TOP_K -> engine.content.top_k, stay
// reachable from the environment; everywhere else the first underscore
// is the section separator.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sub := range []string{"content", "collaborative", "hybrid"} {
		prefix := "engine_" + sub + "_"
		if strings.HasPrefix(s, prefix) {
			return "engine." + sub + "." + strings.TrimPrefix(s, prefix)
		}
	}
	return strings.Replace(s, "_", ".", 1)
}

// findConfigFile returns the first existing config file path.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate rejects configurations the engine cannot serve with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Engine.ModelDir == "" {
		return fmt.Errorf("engine.model_dir must not be empty")
	}
	if c.Engine.Content.TopK <= 0 {
		return fmt.Errorf("engine.content.top_k must be positive")
	}
	if c.Engine.Collaborative.Factors <= 0 {
		return fmt.Errorf("engine.collaborative.factors must be positive")
	}
	if c.Engine.Hybrid.CollaborativeWeight < 0 || c.Engine.Hybrid.ContentWeight < 0 {
		return fmt.Errorf("engine.hybrid weights must not be negative")
	}
	if c.Engine.Hybrid.CollaborativeWeight+c.Engine.Hybrid.ContentWeight == 0 {
		return fmt.Errorf("engine.hybrid weights must not both be zero")
	}
	if c.Plex.Enabled && (c.Plex.URL == "" || c.Plex.Token == "") {
		return fmt.Errorf("plex.url and plex.token are required when plex is enabled")
	}
	if c.OpenAI.Enabled && c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required when the enricher is enabled")
	}
	return nil
}
