package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process logger and the file it appends to
type Logger struct {
	logger   zerolog.Logger
	file     *os.File
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	// Secrets are masked verbatim when Redaction is on
	Secrets []string `json:"-" mapstructure:"-"`
}

// New builds the logger and installs it as the zerolog global. Console
// output goes to stderr so command output on stdout stays parseable, and
// is only pretty-printed on a terminal.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	l := &Logger{}
	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stderr, cfg.Pretty))
	}
	if cfg.File != "" {
		if l.file, err = openLogFile(cfg.File); err != nil {
			return nil, err
		}
		sinks = append(sinks, l.file)
	}

	writer := io.Discard
	if len(sinks) > 0 {
		writer = zerolog.MultiLevelWriter(sinks...)
	}
	if cfg.Redaction {
		l.redactor = NewRedactor()
		for _, secret := range cfg.Secrets {
			l.redactor.AddSecret(secret)
		}
		writer = l.redactor.Wrap(writer)
	}

	l.logger = zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("service", "otto").
		Logger()
	log.Logger = l.logger
	return l, nil
}

func consoleWriter(f *os.File, pretty bool) io.Writer {
	if !pretty || !isatty.IsTerminal(f.Fd()) {
		return f
	}
	return zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}
