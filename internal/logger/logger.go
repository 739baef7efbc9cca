package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"edgevision/internal/config"

	"github.com/rs/zerolog"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (debug/info/warning/error) to per-level
// files and the console.
type Logger struct {
	zl     zerolog.Logger
	logDir string
	files  []*os.File
}

// NewLogger creates a Logger in config.LogDirectory and exits if the
// directory or files cannot be created.
func NewLogger(config *config.Config) *Logger {
	l, err := New(config.LogDirectory, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	return l
}

// New creates a Logger writing JSON lines to per-level files in logDir and
// human readable lines to console. A nil console disables console output.
func New(logDir string, console io.Writer) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{logDir: logDir}
	fileWriter := &levelFileWriter{files: make(map[zerolog.Level]io.Writer)}

	for level, name := range map[zerolog.Level]string{
		zerolog.InfoLevel:  InfoFile,
		zerolog.WarnLevel:  WarningFile,
		zerolog.ErrorLevel: ErrorFile,
	} {
		file, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
		}
		l.files = append(l.files, file)
		fileWriter.files[level] = file
	}

	writers := []io.Writer{fileWriter}
	if console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime})
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		CallerWithSkipFrameCount(3).
		Logger()
	return l, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that adds key=value to every entry.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger(), logDir: l.logDir}
}

// Debug writes a formatted debug-level log entry. Debug entries only reach
// the console.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.zl.Error().Msgf(format, v...)
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	if err := os.Truncate(filepath.Join(l.logDir, fileName), 0); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", fileName, err)
	}
	l.Info("Log file %s has been cleared", fileName)
	return nil
}

// Close closes the log files. Child loggers share them.
func (l *Logger) Close() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}

// levelFileWriter routes each entry to the file registered for its level.
type levelFileWriter struct {
	mu    sync.Mutex
	files map[zerolog.Level]io.Writer
}

func (w *levelFileWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (w *levelFileWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	target, ok := w.files[level]
	if !ok {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return target.Write(p)
}
