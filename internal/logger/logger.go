package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the application-wide logger type, aliased to zerolog.Logger.
type Logger = zerolog.Logger

// Event is an alias for zerolog.Event to allow building log entries without importing zerolog.
type Event = zerolog.Event

// Options selects level, encoding and destination of the global logger.
type Options struct {
	Level    string // debug, info, warn, error
	Format   string // console or json
	Output   string // stdout, file or both
	FilePath string
}

const consoleTimeFormat = "2006-01-02 15:04:05"

func (o Options) normalized() Options {
	o.Output = strings.ToLower(strings.TrimSpace(o.Output))
	if o.Output == "" {
		o.Output = "stdout"
	}
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = "console"
	}
	o.FilePath = strings.TrimSpace(o.FilePath)
	return o
}

func encode(w io.Writer, format string) io.Writer {
	if format == "json" {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}

// Init configures the global logger. Problems with the file destination are
// logged as warnings once the logger is usable instead of failing startup.
func Init(opts Options) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	opts = opts.normalized()

	stdoutEnabled := opts.Output == "stdout" || opts.Output == "both"
	fileEnabled := opts.Output == "file" || opts.Output == "both"

	writers := make([]io.Writer, 0, 2)
	var warnings []string

	if stdoutEnabled {
		writers = append(writers, encode(os.Stdout, opts.Format))
	}
	if fileEnabled {
		switch file, err := openLogFile(opts.FilePath); {
		case opts.FilePath == "":
			warnings = append(warnings, "LOG_OUTPUT requires a file but LOG_FILE_PATH is not set; disabling file logging")
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("Failed to open log file '%s', disabling file logging: %v", opts.FilePath, err))
		default:
			writers = append(writers, encode(file, opts.Format))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, encode(os.Stdout, "console"))
		warnings = append(warnings, "No valid log output configured, falling back to stdout console")
	}

	var output io.Writer = writers[0]
	if len(writers) > 1 {
		output = zerolog.MultiLevelWriter(writers...)
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		if opts.Level != "" {
			warnings = append(warnings, fmt.Sprintf("Invalid log level '%s', defaulting to 'info'", opts.Level))
		}
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(output).Level(lvl).With().Timestamp().Logger()

	for _, msg := range warnings {
		log.Warn().Msg(msg)
	}
	log.Info().
		Str("level", lvl.String()).
		Str("output_mode", opts.Output).
		Str("format", opts.Format).
		Str("log_file_path", opts.FilePath).
		Msg("Logger initialized")
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Get returns a pointer to the configured logger instance
func Get() *zerolog.Logger {
	return &log.Logger
}

// SetOutput changes the destination for log output, typically a buffer in tests.
func SetOutput(w io.Writer) {
	log.Logger = log.Output(w)
}

// HTTPEvent logs HTTP request events with standardized fields.
func HTTPEvent(method, path string, status int, durationMs float64) *zerolog.Event {
	return log.Info().
		Str("event_category", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Float64("duration_ms", durationMs)
}

// HTTPError logs HTTP error events.
func HTTPError(method, path string, status int, err error) *zerolog.Event {
	return log.Error().
		Str("event_category", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Err(err)
}

// PanicEvent logs panic recovery events.
func PanicEvent(err interface{}, stack string) *zerolog.Event {
	return log.Error().
		Str("event_category", "panic").
		Interface("error", err).
		Str("stack", stack)
}

// StoreError logs a failed record store operation.
func StoreError(operation string, err error) *zerolog.Event {
	return log.Error().
		Str("event_category", "store").
		Str("operation", operation).
		Err(err)
}

// DirectoryEvent logs a call to the external directory.
func DirectoryEvent(kind string, records int, duration time.Duration) *zerolog.Event {
	return log.Info().
		Str("event_category", "directory").
		Str("kind", kind).
		Int("records", records).
		Float64("duration_ms", float64(duration.Microseconds())/1000)
}

// InventoryEvent logs a completed inventory operation.
func InventoryEvent(operation, actor string) *zerolog.Event {
	return log.Info().
		Str("event_category", "inventory").
		Str("operation", operation).
		Str("actor", actor)
}
