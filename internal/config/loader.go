package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Unset fields take their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tunables with their [Default] values.
// The server URL is left alone; it has no sensible default.
func ApplyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Audio.ChunkSamples == 0 {
		cfg.Audio.ChunkSamples = def.Audio.ChunkSamples
	}
	if cfg.Buffer.MaxChunks == 0 {
		cfg.Buffer.MaxChunks = def.Buffer.MaxChunks
	}
	if cfg.Buffer.MaxAge == 0 {
		cfg.Buffer.MaxAge = def.Buffer.MaxAge
	}
	if cfg.Transport.QueueSize == 0 {
		cfg.Transport.QueueSize = def.Transport.QueueSize
	}
	if cfg.Transport.QueueMaxAge == 0 {
		cfg.Transport.QueueMaxAge = def.Transport.QueueMaxAge
	}
	if cfg.Transport.ReconnectBase == 0 {
		cfg.Transport.ReconnectBase = def.Transport.ReconnectBase
	}
	if cfg.Transport.ReconnectMax == 0 {
		cfg.Transport.ReconnectMax = def.Transport.ReconnectMax
	}
	if cfg.Transport.MaxAttempts == 0 {
		cfg.Transport.MaxAttempts = def.Transport.MaxAttempts
	}
	if cfg.Transport.DrainPace == 0 {
		cfg.Transport.DrainPace = def.Transport.DrainPace
	}
	if cfg.Transport.Keepalive == 0 {
		cfg.Transport.Keepalive = def.Transport.Keepalive
	}
	if cfg.Session.Mode == "" {
		cfg.Session.Mode = def.Session.Mode
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url %q is not a valid URL: %w", cfg.Server.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("server.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.ChunkSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_samples %d must be positive", cfg.Audio.ChunkSamples))
	}
	if cfg.Buffer.MaxChunks < 0 {
		errs = append(errs, fmt.Errorf("buffer.max_chunks %d must be positive", cfg.Buffer.MaxChunks))
	}
	if cfg.Buffer.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("buffer.max_age %s must be positive", cfg.Buffer.MaxAge.Std()))
	}

	if cfg.Transport.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("transport.queue_size %d must be positive", cfg.Transport.QueueSize))
	}
	if cfg.Transport.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("transport.max_attempts %d must be positive", cfg.Transport.MaxAttempts))
	}
	if cfg.Transport.ReconnectBase < 0 || cfg.Transport.ReconnectMax < 0 {
		errs = append(errs, errors.New("transport reconnect delays must be positive"))
	}
	if cfg.Transport.ReconnectBase > cfg.Transport.ReconnectMax {
		errs = append(errs, fmt.Errorf("transport.reconnect_base %s exceeds transport.reconnect_max %s",
			cfg.Transport.ReconnectBase.Std(), cfg.Transport.ReconnectMax.Std()))
	}

	if cfg.Session.Mode != "" && !cfg.Session.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: push_to_talk, continuous, vad", cfg.Session.Mode))
	}

	return errors.Join(errs...)
}
