package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSensorManifest(t *testing.T, dir, name, body string) {
	t.Helper()
	requireNoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoad_ValidConfigAndManifests(t *testing.T) {
	root := t.TempDir()
	sensorDir := filepath.Join(root, "sensors")
	requireNoError(t, os.MkdirAll(sensorDir, 0o755))

	writeSensorManifest(t, sensorDir, "pulse.yaml", `
id: "sns-001"
name: "Pulse Monitor"
type: "pulse_oximeter"
patient_id: "pt-42"
poll_interval: "30s"
`)

	cfgPath := filepath.Join(root, "edgelink.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
server:
  port: 8081
  host: "127.0.0.1"
  mode: "debug"
store:
  backend: "memory"
bus:
  batch_size: 20
  retry_delay: "500ms"
sensors:
  manifest_dir: "%s"
`, sensorDir)), 0o644))

	cfg, err := Load(cfgPath)
	requireNoError(t, err)

	if cfg.Server.Port != 8081 || cfg.Server.Mode != "debug" {
		t.Fatalf("server section not applied: %+v", cfg.Server)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Store.Backend)
	}
	if len(cfg.SensorLoading.Manifests) != 1 || cfg.SensorLoading.Manifests[0].ID != "sns-001" {
		t.Fatalf("expected 1 loaded manifest, got %+v", cfg.SensorLoading.Manifests)
	}

	opts, err := cfg.Bus.Options()
	requireNoError(t, err)
	if opts.BatchSize != 20 {
		t.Fatalf("expected batch size 20, got %d", opts.BatchSize)
	}
	if opts.RetryDelay != 500*time.Millisecond {
		t.Fatalf("expected retry delay 500ms, got %v", opts.RetryDelay)
	}
	// Untouched keys keep their defaults.
	if opts.ResetTimeout != 60*time.Second {
		t.Fatalf("expected default reset timeout, got %v", opts.ResetTimeout)
	}
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load("")
	requireNoError(t, err)

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "redis" {
		t.Fatalf("expected default redis backend, got %q", cfg.Store.Backend)
	}
	if !cfg.Redis.ManageLocal || cfg.Redis.Binary != "redis-server" {
		t.Fatalf("unexpected redis defaults: %+v", cfg.Redis)
	}
	if cfg.Cloud.Enabled || cfg.Database.Enabled {
		t.Fatalf("cloud and database must default to disabled")
	}
	// Default manifest dir does not exist here; that means zero sensors.
	if len(cfg.SensorLoading.Manifests) != 0 {
		t.Fatalf("expected no manifests, got %d", len(cfg.SensorLoading.Manifests))
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("EDGELINK_SERVER__PORT", "9090")
	t.Setenv("EDGELINK_STORE__BACKEND", "memory")
	t.Setenv("EDGELINK_BUS__MAX_DELIVERIES", "5")

	cfg, err := Load("")
	requireNoError(t, err)

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected env port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected env backend memory, got %q", cfg.Store.Backend)
	}
	if cfg.Bus.MaxDeliveries != 5 {
		t.Fatalf("expected env max deliveries 5, got %d", cfg.Bus.MaxDeliveries)
	}
}

func TestLoad_InvalidBusDurationFailsStartup(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "edgelink.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(`
bus:
  retry_delay: "nope"
`), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "invalid bus.retry_delay") {
		t.Fatalf("expected invalid retry delay error, got %v", err)
	}
}

func TestLoad_InvalidStoreBackendFailsStartup(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "edgelink.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(`
store:
  backend: "sqlite"
`), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "unsupported store.backend") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}

func TestLoad_MalformedManifestFailsStartup(t *testing.T) {
	root := t.TempDir()
	sensorDir := filepath.Join(root, "sensors")
	requireNoError(t, os.MkdirAll(sensorDir, 0o755))

	writeSensorManifest(t, sensorDir, "bad.yaml", `
id: "sns-002"
type: "thermometer"
`)

	cfgPath := filepath.Join(root, "edgelink.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
sensors:
  manifest_dir: "%s"
`, sensorDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "failed to load sensor manifests") {
		t.Fatalf("expected manifest load error, got %v", err)
	}
}

func TestLoad_CloudSyncRequiresBucket(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "edgelink.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(`
cloud:
  enabled: true
`), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "cloud.bucket is required") {
		t.Fatalf("expected missing bucket error, got %v", err)
	}
}

func TestLoad_ArchiveRequiresDSN(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "edgelink.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(`
database:
  enabled: true
`), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "database.dsn is required") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
