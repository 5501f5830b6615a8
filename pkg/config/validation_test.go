package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "VERBOSE" },
			want:   "Level",
		},
		{
			name:   "invalid log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "Format",
		},
		{
			name:   "invalid backend type",
			mutate: func(c *Config) { c.Backend.Type = "redis" },
			want:   "Type",
		},
		{
			name:   "negative chunk size",
			mutate: func(c *Config) { c.Directory.ChunkSize = -1 },
			want:   "ChunkSize",
		},
		{
			name:   "chunk size above one backend value",
			mutate: func(c *Config) { c.Directory.ChunkSize = 1 << 20 },
			want:   "ChunkSize",
		},
		{
			name:   "negative retries",
			mutate: func(c *Config) { c.Directory.CreateRetries = -1 },
			want:   "CreateRetries",
		},
		{
			name: "threshold below chunk size",
			mutate: func(c *Config) {
				c.Directory.ChunkSize = 4096
				c.Directory.FlushThreshold = 1024
			},
			want: "flush_threshold",
		},
		{
			name:   "unknown compression",
			mutate: func(c *Config) { c.Backend.Badger["compression"] = "brotli" },
			want:   "compression",
		},
		{
			name:   "collection with separator",
			mutate: func(c *Config) { c.Backend.Badger["collection"] = "a:b" },
			want:   "collection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "Info", "WARN", "error"} {
		cfg := &Config{Logging: LoggingConfig{Level: level}}
		ApplyDefaults(cfg)

		if cfg.Logging.Level != strings.ToUpper(level) {
			t.Errorf("Expected %q to normalize to %q, got %q", level, strings.ToUpper(level), cfg.Logging.Level)
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("Level %q should be valid: %v", level, err)
		}
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Format: "json", Output: "/var/log/dittodir.log"},
		Backend: BackendConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": "/data", "compression": "none"},
		},
		Directory: DirectoryConfig{ChunkSize: 4096, CreateRetries: 2},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Format != "json" || cfg.Logging.Output != "/var/log/dittodir.log" {
		t.Errorf("Logging values were overwritten: %+v", cfg.Logging)
	}
	if cfg.Backend.Badger["db_path"] != "/data" || cfg.Backend.Badger["compression"] != "none" {
		t.Errorf("Badger values were overwritten: %v", cfg.Backend.Badger)
	}
	if cfg.Backend.Badger["collection"] != "files" {
		t.Errorf("Expected default collection to be filled in, got %v", cfg.Backend.Badger["collection"])
	}
	if cfg.Directory.ChunkSize != 4096 || cfg.Directory.CreateRetries != 2 {
		t.Errorf("Directory values were overwritten: %+v", cfg.Directory)
	}
	if cfg.Directory.FlushThreshold != 64*1024 {
		t.Errorf("Expected default flush threshold, got %d", cfg.Directory.FlushThreshold)
	}
}
