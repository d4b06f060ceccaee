// Package config provides the configuration schema and loader for the
// voxwire streaming client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxwire/voxwire/internal/buffer"
	"github.com/voxwire/voxwire/internal/transport"
	"github.com/voxwire/voxwire/internal/wire"
	"github.com/voxwire/voxwire/pkg/types"
)

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values can be written as "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure for the voxwire client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Audio     AudioConfig     `yaml:"audio"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds the transcription endpoint and logging settings.
type ServerConfig struct {
	// URL is the WebSocket endpoint of the transcription server
	// (e.g., "ws://localhost:8011/ws").
	URL string `yaml:"url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// MetricsConfig holds the local observability endpoint settings.
type MetricsConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":9101"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// AudioConfig holds capture settings. The wire format itself is fixed at
// 16 kHz mono 16-bit PCM; only the chunking is adjustable.
type AudioConfig struct {
	// ChunkSamples is the number of samples per captured chunk.
	ChunkSamples int `yaml:"chunk_samples"`

	// WAVFile, when set, replays the given file instead of capturing from
	// a device.
	WAVFile string `yaml:"wav_file"`
}

// BufferConfig bounds the capture-side chunk buffer.
type BufferConfig struct {
	// MaxChunks is the maximum number of retained chunks.
	MaxChunks int `yaml:"max_chunks"`

	// MaxAge is the retention window for buffered chunks.
	MaxAge Duration `yaml:"max_age"`
}

// TransportConfig tunes the WebSocket connection behaviour.
type TransportConfig struct {
	// QueueSize bounds the outbound frame queue.
	QueueSize int `yaml:"queue_size"`

	// QueueMaxAge is the retention window for queued frames.
	QueueMaxAge Duration `yaml:"queue_max_age"`

	// ReconnectBase is the first reconnection delay; it doubles per failed
	// attempt up to ReconnectMax.
	ReconnectBase Duration `yaml:"reconnect_base"`

	// ReconnectMax caps the reconnection delay.
	ReconnectMax Duration `yaml:"reconnect_max"`

	// MaxAttempts is the number of consecutive failures before giving up.
	MaxAttempts int `yaml:"max_attempts"`

	// DrainPace is the gap between backlog frames after a reconnect.
	DrainPace Duration `yaml:"drain_pace"`

	// Keepalive is the application-level ping interval. Zero disables it.
	Keepalive Duration `yaml:"keepalive"`
}

// SessionConfig holds recording behaviour settings.
type SessionConfig struct {
	// Mode is the initial recording mode: push_to_talk, continuous or vad.
	Mode types.RecordingMode `yaml:"mode"`
}

// HistoryConfig controls on-disk transcript storage.
type HistoryConfig struct {
	// Dir is the base directory for per-session transcript logs.
	// Empty disables history.
	Dir string `yaml:"dir"`
}

// Default returns a Config with every tunable at its default value. The
// server URL has no default and must be provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Audio:  AudioConfig{ChunkSamples: wire.ChunkSamples},
		Buffer: BufferConfig{
			MaxChunks: buffer.DefaultMaxChunks,
			MaxAge:    Duration(buffer.DefaultMaxAge),
		},
		Transport: TransportConfig{
			QueueSize:     transport.DefaultQueueSize,
			QueueMaxAge:   Duration(transport.DefaultQueueAge),
			ReconnectBase: Duration(transport.DefaultBackoffBase),
			ReconnectMax:  Duration(transport.DefaultBackoffMax),
			MaxAttempts:   transport.DefaultMaxAttempts,
			DrainPace:     Duration(transport.DefaultDrainPace),
			Keepalive:     Duration(transport.DefaultKeepalive),
		},
		Session: SessionConfig{Mode: types.ModePushToTalk},
	}
}
