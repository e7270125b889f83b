package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, want 127.0.0.1", cfg.Server.Bind)
	}
	if cfg.Server.Port == 0 {
		t.Error("Port is zero")
	}
	if cfg.Retrieval.MaxResults != 10 {
		t.Errorf("MaxResults = %d, want 10", cfg.Retrieval.MaxResults)
	}
	if cfg.Retrieval.Tokenizer != "heuristic" {
		t.Errorf("Tokenizer = %q, want heuristic", cfg.Retrieval.Tokenizer)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("Port = %d, want default %d", cfg.Server.Port, Default().Server.Port)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: 9999\nretrieval:\n  token_budget: 4000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, want default preserved", cfg.Server.Bind)
	}
	if cfg.Retrieval.TokenBudget != 4000 {
		t.Errorf("TokenBudget = %d, want 4000", cfg.Retrieval.TokenBudget)
	}
	if cfg.Retrieval.MaxResults != 10 {
		t.Errorf("MaxResults = %d, want default preserved", cfg.Retrieval.MaxResults)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Config{Server: ServerConfig{Bind: "0.0.0.0", Port: 8080}}
	if got := cfg.ListenAddr(); got != "0.0.0.0:8080" {
		t.Errorf("ListenAddr() = %q, want 0.0.0.0:8080", got)
	}
}
