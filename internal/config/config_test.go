package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if len(cfg.Ports) != 1 || cfg.Ports[0] != 1293 {
		t.Errorf("ports = %v", cfg.Ports)
	}
	if cfg.Log.Level != "info" || !cfg.Log.Console || cfg.Index.BatchSize != 1000 || cfg.Kerberos.Strict {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pktc.yaml")
	yaml := "ports: [1293, 41293]\nkerberos:\n  strict: true\nlog:\n  level: debug\nindex:\n  batch_size: 50\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PKTC_LOG_LEVEL", "warn")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if got := cfg.PortList(); len(got) != 2 || got[1] != 41293 {
		t.Errorf("ports = %v", got)
	}
	if !cfg.Kerberos.Strict || cfg.Index.BatchSize != 50 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want env override", cfg.Log.Level)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("ports: [70000]\n"), 0o644)
	if _, err := Load(New(), path); err == nil {
		t.Error("expected error for out of range port")
	}
}
