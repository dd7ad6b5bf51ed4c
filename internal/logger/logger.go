package logger

import (
	"io"
	"os"
	"path/filepath"

	"image-compressor-go/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log output goes and how verbose it is.
type Options struct {
	Level      string // debug, info, warn, error
	FilePath   string // empty disables the rotating file
	MaxSize    int    // megabytes before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool
}

// FromConfig maps the logging section of the app config onto Options.
func FromConfig(cfg config.LoggingConfig, console bool) Options {
	return Options{
		Level:      cfg.Level,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		Console:    console,
	}
}

// New returns a JSON logrus.Logger writing to a lumberjack-rotated file and/or stdout.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
		},
	})

	var writers []io.Writer

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		})
	}

	if opts.Console || opts.FilePath == "" {
		writers = append(writers, os.Stdout)
	}

	switch len(writers) {
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}

	return log, nil
}

// Discard returns a logger that drops everything. Used by tests and as a fallback.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// WithOperation returns an entry tagged with the workflow step being performed.
func WithOperation(log *logrus.Logger, operation string) *logrus.Entry {
	return log.WithField("operation", operation)
}

// WithImage returns an entry tagged with the image name and operation.
func WithImage(log *logrus.Logger, name, operation string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"image":     name,
		"operation": operation,
	})
}
