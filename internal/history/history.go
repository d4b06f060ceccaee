// Package history persists a session's transcription results on disk.
// Each session gets its own directory holding an append-only JSONL
// transcript plus a summary written on close.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	transcriptFile = "transcript.jsonl"
	summaryFile    = "summary.json"
	sessionIDForm  = "20060102-150405"
)

// Entry is one transcript record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	AudioFile string    `json:"audio_file,omitempty"`
}

// Summary describes a finished session.
type Summary struct {
	SessionID  string    `json:"session_id"`
	Started    time.Time `json:"started"`
	Ended      time.Time `json:"ended"`
	Sentences  int       `json:"sentences"`
	AudioFiles int       `json:"audio_files"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Store is an append-only transcript log for one session. Safe for
// concurrent use.
type Store struct {
	dir  string
	id   string
	log  *slog.Logger
	now  func() time.Time

	mu         sync.Mutex
	file       *os.File
	started    time.Time
	sentences  int
	audioFiles int
	closed     bool
}

// Open creates a session directory under baseDir, named by the session's
// start time, and opens its transcript for appending.
func Open(baseDir string, opts ...Option) (*Store, error) {
	s := &Store{
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.started = s.now().UTC()
	s.id = s.started.Format(sessionIDForm)
	s.dir = filepath.Join(baseDir, s.id)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create session dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(s.dir, transcriptFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open transcript: %w", err)
	}
	s.file = f

	s.log.Info("history session started", "dir", s.dir)
	return s, nil
}

// Dir returns the session directory path.
func (s *Store) Dir() string {
	return s.dir
}

// AppendSentence records a completed sentence.
func (s *Store) AppendSentence(text string, at time.Time) error {
	return s.append(Entry{Timestamp: at, Kind: "sentence", Text: text})
}

// AppendAudioFile records a server-side audio file reference.
func (s *Store) AppendAudioFile(ref string, at time.Time) error {
	return s.append(Entry{Timestamp: at, Kind: "audio_file", AudioFile: ref})
}

func (s *Store) append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: marshal entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("history: store closed")
	}
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("history: write entry: %w", err)
	}
	switch e.Kind {
	case "sentence":
		s.sentences++
	case "audio_file":
		s.audioFiles++
	}
	return nil
}

// Close writes the session summary and closes the transcript. Safe to
// call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	summary := Summary{
		SessionID:  s.id,
		Started:    s.started,
		Ended:      s.now().UTC(),
		Sentences:  s.sentences,
		AudioFiles: s.audioFiles,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, summaryFile), data, 0o644); err != nil {
		return fmt.Errorf("history: write summary: %w", err)
	}

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("history: close transcript: %w", err)
	}
	s.log.Info("history session closed", "dir", s.dir, "sentences", summary.Sentences)
	return nil
}
