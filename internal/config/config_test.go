package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  page_size: 25
auth:
  master_key: this is the master key
tenant:
  root_domain: example-platform.com
database:
  dsn: postgres://socket@localhost:5432/socket
  max_conns: 20
queue:
  backend: pubsub
pubsub:
  project_id: demo-project
  topic: jobs
  low_topic: jobs-low
worker:
  concurrency: 3
  low_concurrency: 1
  job_timeout: 90s
media:
  backend: gcs
  bucket: contractor-media
geocode:
  rate_limit: 4
  cache_ttl: 48h
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.PageSize != 25 {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Auth.MasterKey != "this is the master key" {
		t.Fatalf("expected master key override")
	}
	if cfg.Database.MaxConns != 20 {
		t.Fatalf("expected max_conns 20, got %d", cfg.Database.MaxConns)
	}
	if cfg.Queue.Backend != "pubsub" || cfg.PubSub.LowTopic != "jobs-low" {
		t.Fatalf("expected pubsub queue settings, got %+v %+v", cfg.Queue, cfg.PubSub)
	}
	if cfg.Worker.JobTimeout != 90*time.Second {
		t.Fatalf("expected job timeout 90s, got %v", cfg.Worker.JobTimeout)
	}
	if cfg.Geocode.CacheTTL != 48*time.Hour || cfg.Geocode.RateLimit != 4 {
		t.Fatalf("expected geocode overrides, got %+v", cfg.Geocode)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected development logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if got := cfg.RequestWindow(); got != 10*time.Second {
		t.Fatalf("expected 10s request window, got %v", got)
	}
	if cfg.Worker.StartupAttempts != 5 || cfg.Worker.StartupRetryDelay != time.Second {
		t.Fatalf("expected 5 startup attempts at 1s, got %d at %v",
			cfg.Worker.StartupAttempts, cfg.Worker.StartupRetryDelay)
	}
	if cfg.Geocode.CacheTTL != 90*24*time.Hour {
		t.Fatalf("expected 90 day geocode ttl, got %v", cfg.Geocode.CacheTTL)
	}
	if cfg.Queue.Backend != "memory" || cfg.Media.Backend != "local" {
		t.Fatalf("expected memory queue and local media by default")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SOCKET_AUTH_MASTER_KEY", "from-env")
	t.Setenv("SOCKET_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.MasterKey != "from-env" || cfg.Server.Port != 7070 {
		t.Fatalf("expected env overrides, got key=%q port=%d", cfg.Auth.MasterKey, cfg.Server.Port)
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:  ServerConfig{Port: 0, MaxBodyBytes: 1, PageSize: 1},
		Auth:    AuthConfig{RequestWindowSeconds: 10},
		Queue:   QueueConfig{Backend: "pubsub"},
		Worker:  WorkerConfig{Concurrency: 1, LowConcurrency: 1, StartupAttempts: 5},
		Media:   MediaConfig{Backend: "ftp", MaxDownloadBytes: 1},
		Geocode: GeocodeConfig{RateLimit: 10},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "pubsub.project_id", "media.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
