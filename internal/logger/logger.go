package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	isDevelopment = false // human readable console output

	logFile io.Writer = nil

	// AdHocLogger can be used when no component logger is at hand.
	AdHocLogger zerolog.Logger

	once sync.Once

	globalLogger zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	AdHocLogger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "ad-hoc-logger").Caller().Logger()
}

// Options controls how New builds a logger.
type Options struct {
	Service     string
	Level       string
	Development bool
	Out         io.Writer
	File        io.Writer
}

// New builds a standalone logger. Unlike GetLogger it does not touch the
// process wide logger.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Development {
		out = consoleWriter(out)
	}
	if opts.File != nil {
		out = zerolog.MultiLevelWriter(out, opts.File)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	if opts.Development {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// GetLogger returns the process wide logger, building it on first use.
func GetLogger(serviceName string) zerolog.Logger {
	once.Do(func() {
		level := "info"
		if isDevelopment {
			level = "trace"
		}
		globalLogger = New(Options{
			Service:     serviceName,
			Level:       level,
			Development: isDevelopment,
			File:        logFile,
		})
	})

	return globalLogger
}

// Component derives a sub logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func SetDevelopment(value bool) {
	isDevelopment = value
}

func SetLogFile(file io.Writer) {
	logFile = file
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339,
		FormatLevel: func(i any) string {
			return strings.ToUpper(fmt.Sprintf("[%5s]", i))
		},
		FormatMessage: func(i any) string {
			return fmt.Sprintf("| %s |", i)
		},
		FormatCaller: func(i any) string {
			return filepath.Base(fmt.Sprintf("%s", i))
		},
		PartsExclude: []string{
			zerolog.TimestampFieldName,
		}}
}

// Console wraps out with the human readable console format.
func Console(out io.Writer) io.Writer {
	return consoleWriter(out)
}
