package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: ws://localhost:8011/ws
  log_level: debug
metrics:
  listen_addr: ":9101"
audio:
  chunk_samples: 2048
  wav_file: testdata/sample.wav
buffer:
  max_chunks: 200
  max_age: 10s
transport:
  queue_size: 500
  queue_max_age: 8s
  reconnect_base: 2s
  reconnect_max: 60s
  max_attempts: 5
  drain_pace: 5ms
  keepalive: 15s
session:
  mode: vad
history:
  dir: /var/lib/voxwire/history
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URL != "ws://localhost:8011/ws" {
		t.Errorf("server.url = %q", cfg.Server.URL)
	}
	if cfg.Transport.ReconnectBase.Std() != 2*time.Second {
		t.Errorf("transport.reconnect_base = %s, want 2s", cfg.Transport.ReconnectBase.Std())
	}
	if cfg.Transport.MaxAttempts != 5 {
		t.Errorf("transport.max_attempts = %d, want 5", cfg.Transport.MaxAttempts)
	}
	if cfg.Session.Mode != "vad" {
		t.Errorf("session.mode = %q, want vad", cfg.Session.Mode)
	}
	if cfg.History.Dir != "/var/lib/voxwire/history" {
		t.Errorf("history.dir = %q", cfg.History.Dir)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: wss://stt.example.com/ws
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := config.Default()
	if cfg.Server.LogLevel != def.Server.LogLevel {
		t.Errorf("log_level = %q, want default %q", cfg.Server.LogLevel, def.Server.LogLevel)
	}
	if cfg.Buffer.MaxChunks != def.Buffer.MaxChunks {
		t.Errorf("buffer.max_chunks = %d, want default %d", cfg.Buffer.MaxChunks, def.Buffer.MaxChunks)
	}
	if cfg.Transport.ReconnectBase != def.Transport.ReconnectBase {
		t.Errorf("reconnect_base = %s, want default %s", cfg.Transport.ReconnectBase.Std(), def.Transport.ReconnectBase.Std())
	}
	if cfg.Session.Mode != def.Session.Mode {
		t.Errorf("session.mode = %q, want default %q", cfg.Session.Mode, def.Session.Mode)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: ws://localhost:8011/ws
  bandwidth: unlimited
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MissingServerURL(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("session:\n  mode: continuous\n"))
	if err == nil {
		t.Fatal("expected error for missing server.url, got nil")
	}
	if !strings.Contains(err.Error(), "server.url") {
		t.Errorf("error should mention server.url, got: %v", err)
	}
}

func TestValidate_BadScheme(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: http://localhost:8011/ws
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for http scheme, got nil")
	}
	if !strings.Contains(err.Error(), "scheme") {
		t.Errorf("error should mention scheme, got: %v", err)
	}
}

func TestValidate_BadMode(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: ws://localhost:8011/ws
session:
  mode: interpretive_dance
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown mode, got nil")
	}
	if !strings.Contains(err.Error(), "session.mode") {
		t.Errorf("error should mention session.mode, got: %v", err)
	}
}

func TestValidate_BaseExceedsMax(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: ws://localhost:8011/ws
transport:
  reconnect_base: 2m
  reconnect_max: 30s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for base > max, got nil")
	}
	if !strings.Contains(err.Error(), "reconnect_base") {
		t.Errorf("error should mention reconnect_base, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: ftp://stt.example.com
  log_level: whisper
session:
  mode: interpretive_dance
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"scheme", "log_level", "session.mode"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: ws://localhost:8011/ws
transport:
  keepalive: sometimes
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for bad duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration, got: %v", err)
	}
}
