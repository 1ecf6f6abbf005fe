package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"github.com/tarungka/opwire/internal/logger"
)

// errHelp ends a command after printing its usage.
var errHelp = errors.New("help requested")

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.SetOutput(stderr)
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.Bool("dev", false, "human readable console logs")
	f.String("log-file", "", "also write logs to this file")
	return f
}

// parseFlags loads the parsed flags into a fresh koanf instance.
func parseFlags(f *flag.FlagSet, args []string) (*koanf.Koanf, error) {
	if err := f.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, errHelp
		}
		return nil, err
	}
	ko := koanf.New(".")
	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return nil, fmt.Errorf("error reading flag config: %w", err)
	}
	return ko, nil
}

// setupLogger builds the process logger from the common flags. The returned
// func closes the log file.
func setupLogger(ko *koanf.Koanf, stderr io.Writer) (zerolog.Logger, func(), error) {
	opts := logger.Options{
		Service:     "opwire",
		Level:       ko.String("log-level"),
		Development: ko.Bool("dev"),
		Out:         stderr,
	}
	closeFn := func() {}
	if path := ko.String("log-file"); path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("failed to open log file: %w", err)
		}
		opts.File = file
		closeFn = func() { file.Close() }
	}
	logger.SetDevelopment(opts.Development)
	return logger.New(opts), closeFn, nil
}
