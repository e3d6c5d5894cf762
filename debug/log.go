package debug

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger  = newLogger(io.Discard)
	file    *os.File
	mu      sync.Mutex
	enabled bool
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}

// Path returns the debug log location, ~/.config/dieseq/debug.log
func Path() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "dieseq", "debug.log")
}

// Enable starts debug logging to Path()
func Enable() error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	logPath := Path()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	file = f
	logger.SetOutput(f)
	enabled = true
	logger.WithField("category", "debug").Info("=== Debug logging started ===")
	return nil
}

// EnableWriter sends the log to w instead of the file (tests, --debug to stderr)
func EnableWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
	enabled = true
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}
	logger.SetOutput(io.Discard)
	enabled = false
}

// Enabled reports whether Log writes anywhere
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Log writes a debug message tagged with a category
func Log(category, format string, args ...any) {
	if !Enabled() {
		return
	}
	logger.WithField("category", category).Debugf(format, args...)
}

// Warn records a recoverable problem, like a skipped note or a failed send
func Warn(category string, err error, fields logrus.Fields) {
	if !Enabled() {
		return
	}
	logger.WithField("category", category).WithFields(fields).WithError(err).Warn(category)
}

// Error records a failure the user will also see
func Error(category string, err error, fields logrus.Fields) {
	if !Enabled() {
		return
	}
	logger.WithField("category", category).WithFields(fields).WithError(err).Error(category)
}

// LogEvery logs only every N calls (use for high-frequency events)
var (
	counters   = make(map[string]int)
	countersMu sync.Mutex
)

func LogEvery(n int, category, format string, args ...any) {
	if n <= 0 {
		n = 1
	}
	countersMu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	countersMu.Unlock()

	if count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}

// Fields is shorthand for structured log fields
type Fields = logrus.Fields
