// Package gjslog provides per-attempt scoped logging: one append-only
// file per job, named <base>/<sanitized_function_name>/<gjs_id>.log,
// opened fresh for every attempt with a "Starting"/"Restarting" banner
// line, every line carrying an ISO-8601 timestamp and the process id.
// Logging goes through an explicit, per-attempt logger instead of
// captured os.Stdout/os.Stderr, since the latter cannot be made safe
// across concurrently running attempts sharing one process. JobRunner
// writes to that logger; it is not passed to the function, and the
// function's own standard output and standard error are not redirected
// into the log file.
package gjslog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFunctionName maps a function name onto a filesystem-safe path
// segment.
func SanitizeFunctionName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// Path computes the log file path for one job:
// <base>/<sanitized_function_name>/<gjs_id>.log.
func Path(base, functionName, gjsID string) string {
	return filepath.Join(base, SanitizeFunctionName(functionName), gjsID+".log")
}

// Attempt owns one open log file for the duration of a single retry
// attempt. Callers must call Close when the attempt ends.
type Attempt struct {
	file   *os.File
	logger zerolog.Logger
	path   string
}

// Open opens (creating parent directories as needed) the log file for
// one job attempt, appending if it already exists, and writes the
// Starting/Restarting banner. attempt is the zero-based retry index;
// attempt 0 logs "Starting", every later attempt logs "Restarting".
func Open(base, functionName, gjsID string, attempt int) (*Attempt, error) {
	path := Path(base, functionName, gjsID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("gjslog: create log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("gjslog: open %s: %w", path, err)
	}

	logger := zerolog.New(f).With().
		Timestamp().
		Int("pid", os.Getpid()).
		Str("gjs_id", gjsID).
		Str("function", functionName).
		Int("attempt", attempt).
		Logger()

	banner := "Starting"
	if attempt > 0 {
		banner = "Restarting"
	}
	logger.Info().Msg(banner)

	return &Attempt{file: f, logger: logger, path: path}, nil
}

// Logger returns the scoped logger for this attempt. Nothing routed
// through it touches the process-wide stdout/stderr or global zerolog
// logger, so concurrently running attempts never interleave output.
func (a *Attempt) Logger() zerolog.Logger { return a.logger }

// Path returns the log file path this attempt is writing to.
func (a *Attempt) Path() string { return a.path }

// Close closes the underlying file. The file is left in place for
// future attempts and for tail reads by the notifier.
func (a *Attempt) Close() error {
	return a.file.Close()
}

// TailLines returns up to n of the last lines in path, in original
// order, for use in a failure notification body. A missing file yields
// an empty slice rather than an error.
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("gjslog: open %s: %w", path, err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(ring) < n {
			ring = append(ring, line)
		} else {
			copy(ring, ring[1:])
			ring[n-1] = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gjslog: scan %s: %w", path, err)
	}
	return ring, nil
}

// NewConsoleLogger builds a human-readable logger on stderr using
// zerolog's ConsoleWriter. The worker pool uses it as the default logger
// for errors that end a server connection loop; per-attempt job logs
// never go through it.
func NewConsoleLogger() zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).With().Timestamp().Int("pid", os.Getpid()).Logger()
}
