package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadFileOverridesDefaultsAndKeepsOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtuhub.yaml")
	yamlDoc := `
device_name: plant-floor-3
remote_enabled: true
remote_url: https://collector.example.internal/ingest
sensor_tick: 5ms
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	want := Default()
	want.DeviceName = "plant-floor-3"
	want.RemoteEnabled = true
	want.RemoteURL = "https://collector.example.internal/ingest"
	want.SensorTick = 5 * time.Millisecond

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadFile result mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileRejectsMissingPath(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error loading a nonexistent config file")
	}
}

func TestValidateRejectsEmptyDBPath(t *testing.T) {
	cfg := Default()
	cfg.DBPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty db_path")
	}
}

func TestValidateRejectsRemoteEnabledWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.RemoteEnabled = true
	cfg.RemoteURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for remote_enabled without remote_url")
	}
}
