// Command voxwire streams audio to a realtime transcription server and
// prints the transcription as it arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/health"
	"github.com/voxwire/voxwire/internal/history"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/transport"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/audio/wavfile"
	"github.com/voxwire/voxwire/pkg/session"
	"github.com/voxwire/voxwire/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	serverURL := flag.String("server", "", "transcription server URL (overrides config)")
	wavPath := flag.String("wav", "", "stream the given WAV file instead of the configured source")
	mode := flag.String("mode", "", "recording mode: push_to_talk, continuous or vad (overrides config)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *serverURL, *wavPath, *mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"server", cfg.Server.URL,
		"mode", cfg.Session.Mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability provider ────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxwire"})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	// ── Audio source ──────────────────────────────────────────────────────────
	source, err := newSource(cfg)
	if err != nil {
		slog.Error("failed to open audio source", "err", err)
		return 1
	}

	// ── Session ───────────────────────────────────────────────────────────────
	opts := []session.Option{
		session.WithMode(cfg.Session.Mode),
		session.WithBuffer(cfg.Buffer.MaxChunks, cfg.Buffer.MaxAge.Std()),
		session.WithLogger(logger),
		session.WithTransportOptions(
			transport.WithQueue(cfg.Transport.QueueSize, cfg.Transport.QueueMaxAge.Std()),
			transport.WithBackoff(cfg.Transport.ReconnectBase.Std(), cfg.Transport.ReconnectMax.Std(), cfg.Transport.MaxAttempts),
			transport.WithDrainPace(cfg.Transport.DrainPace.Std()),
			transport.WithKeepalive(cfg.Transport.Keepalive.Std()),
		),
	}
	if cfg.History.Dir != "" {
		store, err := history.Open(cfg.History.Dir, history.WithLogger(logger))
		if err != nil {
			slog.Error("failed to open history store", "err", err)
			return 1
		}
		opts = append(opts, session.WithHistory(store))
		slog.Info("history enabled", "dir", store.Dir())
	}
	ctl := session.New(cfg.Server.URL, source, opts...)

	if err := ctl.Connect(ctx); err != nil {
		slog.Error("failed to connect", "err", err)
		return 1
	}
	defer ctl.Disconnect()

	// ── Run group ─────────────────────────────────────────────────────────────
	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Metrics.ListenAddr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, cfg.Metrics.ListenAddr, ctl, cfg.History.Dir)
		})
	}
	group.Go(func() error {
		renderEvents(groupCtx, ctl)
		return nil
	})

	slog.Info("streaming — press Ctrl+C to stop")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig loads the YAML config and applies flag overrides. A missing
// config file is fine when -server is given; everything else defaults.
func loadConfig(path, serverURL, wavPath, mode string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if wavPath != "" {
		cfg.Audio.WAVFile = wavPath
	}
	if mode != "" {
		cfg.Session.Mode = types.RecordingMode(mode)
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSource picks the audio source. Device capture lives behind external
// implementations of audio.Source; the built-in source replays WAV files.
func newSource(cfg *config.Config) (audio.Source, error) {
	if cfg.Audio.WAVFile == "" {
		return nil, errors.New("no audio source configured: set audio.wav_file or pass -wav")
	}
	return wavfile.New(cfg.Audio.WAVFile, wavfile.WithChunkSamples(cfg.Audio.ChunkSamples)), nil
}

// serveMetrics runs the local /metrics and health endpoint server until
// ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, ctl *session.Controller, historyDir string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	checks := []health.Check{health.ConnectionChecker(ctl.ConnectionState)}
	if historyDir != "" {
		checks = append(checks, health.HistoryDirChecker(historyDir))
	}
	health.New(checks...).Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics server listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// renderEvents drives the recording lifecycle and prints transcription
// output: partial results overwrite the current line, completed sentences
// get their own. It returns when ctx is cancelled or the session fails.
func renderEvents(ctx context.Context, ctl *session.Controller) {
	var lineOpen bool
	for {
		select {
		case state := <-ctl.ConnectionStates():
			slog.Info("connection state changed", "state", state)
			if state == types.ConnConnected {
				if err := ctl.StartRecording(); err != nil {
					slog.Warn("could not start recording", "err", err)
				}
			}
		case update := <-ctl.RecordingStates():
			if update.State == types.RecError {
				slog.Error("recording failed", "reason", update.Message)
				return
			}
			slog.Debug("recording state changed", "state", update.State)
		case msg := <-ctl.Messages():
			lineOpen = renderMessage(msg, lineOpen)
		case <-ctx.Done():
			if lineOpen {
				fmt.Println()
			}
			ctl.StopRecording()
			return
		}
	}
}

// renderMessage prints one transcription message and reports whether an
// in-progress line is left open on stdout.
func renderMessage(msg types.TranscriptionMessage, lineOpen bool) bool {
	switch msg.Kind {
	case types.KindPartial, types.KindRealtime:
		fmt.Printf("\r\033[K[PARTIAL] %s", msg.Text)
		return true
	case types.KindFullSentence:
		if lineOpen {
			fmt.Print("\r\033[K")
		}
		fmt.Printf("[SENTENCE] %s\n", msg.Text)
		return false
	case types.KindAudioFile:
		slog.Info("server stored audio", "file", msg.AudioFile)
	case types.KindError:
		slog.Warn("server error", "message", msg.Text)
	case types.KindInfo:
		slog.Info("server info", "message", msg.Text)
	}
	return lineOpen
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
