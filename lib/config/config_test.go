package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdir changes the working directory for the duration of the test,
// mirroring t.Chdir (which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Database.Path != "movieapp.db" {
		t.Errorf("Database.Path = %q, want movieapp.db", cfg.Database.Path)
	}
	if cfg.Engine.Content.TopK != 50 {
		t.Errorf("Content.TopK = %d, want 50", cfg.Engine.Content.TopK)
	}
	if cfg.Engine.Hybrid.CollaborativeWeight != 0.5 {
		t.Errorf("CollaborativeWeight = %f, want 0.5", cfg.Engine.Hybrid.CollaborativeWeight)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MOVIEAPP_SERVER_ADDR", ":9999")
	t.Setenv("MOVIEAPP_TMDB_API_KEY", "test-key")
	t.Setenv("MOVIEAPP_DATABASE_PATH", "/tmp/other.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q, want env override :9999", cfg.Server.Addr)
	}
	if cfg.TMDb.APIKey != "test-key" {
		t.Errorf("TMDb.APIKey = %q, want test-key", cfg.TMDb.APIKey)
	}
	if cfg.Database.Path != "/tmp/other.db" {
		t.Errorf("Database.Path = %q, want /tmp/other.db", cfg.Database.Path)
	}
}

func TestLoadNestedEngineEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MOVIEAPP_ENGINE_CONTENT_TOP_K", "7")
	t.Setenv("MOVIEAPP_ENGINE_HYBRID_CONTENT_WEIGHT", "0.8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Content.TopK != 7 {
		t.Errorf("Engine.Content.TopK = %d, want env override 7", cfg.Engine.Content.TopK)
	}
	if cfg.Engine.Hybrid.ContentWeight != 0.8 {
		t.Errorf("Engine.Hybrid.ContentWeight = %f, want env override 0.8", cfg.Engine.Hybrid.ContentWeight)
	}
	// Siblings of the overridden keys keep their defaults.
	if cfg.Engine.Content.Workers != 4 {
		t.Errorf("Engine.Content.Workers = %d, want default 4", cfg.Engine.Content.Workers)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := "server:\n  addr: \":7070\"\nengine:\n  content:\n    top_k: 25\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":7070" {
		t.Errorf("Server.Addr = %q, want file value :7070", cfg.Server.Addr)
	}
	if cfg.Engine.Content.TopK != 25 {
		t.Errorf("Content.TopK = %d, want file value 25", cfg.Engine.Content.TopK)
	}
	// Untouched keys keep their defaults.
	if cfg.Engine.Collaborative.Factors != 32 {
		t.Errorf("Collaborative.Factors = %d, want default 32", cfg.Engine.Collaborative.Factors)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MOVIEAPP_SERVER_ADDR", "server.addr"},
		{"MOVIEAPP_TMDB_API_KEY", "tmdb.api_key"},
		{"MOVIEAPP_PLEX_TOKEN", "plex.token"},
		{"MOVIEAPP_ENGINE_MODEL_DIR", "engine.model_dir"},
		{"MOVIEAPP_ENGINE_CONTENT_TOP_K", "engine.content.top_k"},
		{"MOVIEAPP_ENGINE_COLLABORATIVE_LEARNING_RATE", "engine.collaborative.learning_rate"},
		{"MOVIEAPP_ENGINE_HYBRID_CONTENT_WEIGHT", "engine.hybrid.content_weight"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty addr", mutate: func(c *Config) { c.Server.Addr = "" }},
		{name: "empty db path", mutate: func(c *Config) { c.Database.Path = "" }},
		{name: "zero top_k", mutate: func(c *Config) { c.Engine.Content.TopK = 0 }},
		{name: "negative weight", mutate: func(c *Config) { c.Engine.Hybrid.ContentWeight = -1 }},
		{name: "both weights zero", mutate: func(c *Config) {
			c.Engine.Hybrid.CollaborativeWeight = 0
			c.Engine.Hybrid.ContentWeight = 0
		}},
		{name: "plex enabled without token", mutate: func(c *Config) { c.Plex.Enabled = true }},
		{name: "openai enabled without key", mutate: func(c *Config) { c.OpenAI.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
