package main

import (
	"context"
	"errors"
	"io"

	"github.com/tarungka/opwire/channel/local"
	"github.com/tarungka/opwire/executor"
	"github.com/tarungka/opwire/pipeline"
	"github.com/tarungka/opwire/spec"

	// backends and plugins register themselves
	_ "github.com/tarungka/opwire/channel/kafka"
	_ "github.com/tarungka/opwire/plugins"
)

func runCommand(args []string, stderr io.Writer) int {
	f := newFlagSet("run", stderr)
	f.StringSlice("config", []string{"pipeline.yaml"}, "path to one or more pipeline files (merged in order)")
	f.StringSlice("operator", nil, "run only these operators of the pipeline")
	f.String("mode", "", "execution mode, overrides the pipeline file")
	f.Int("max-operators", pipeline.DefaultMaxOperators, "most operators this process runs")

	ko, err := parseFlags(f, args)
	if errors.Is(err, errHelp) {
		return executor.ExitOK
	}
	if err != nil {
		return 2
	}
	log, closeLog, err := setupLogger(ko, stderr)
	defer closeLog()
	if err != nil {
		log.Err(err).Msg("error setting up logging")
		return executor.ExitGeneralError
	}

	p, err := spec.LoadFiles(ko.Strings("config")...)
	if err != nil {
		log.Err(err).Strs("config", ko.Strings("config")).Msg("error loading pipeline")
		return executor.ExitGeneralError
	}
	pl, err := pipeline.New(p, pipeline.Options{
		Operators:    ko.Strings("operator"),
		Mode:         ko.String("mode"),
		MaxOperators: ko.Int("max-operators"),
		Logger:       &log,
	})
	if err != nil {
		log.Err(err).Msg("error building pipeline")
		return executor.ExitGeneralError
	}
	defer func() {
		if err := local.CloseAll(); err != nil {
			log.Warn().Err(err).Msg("error closing local brokers")
		}
	}()

	res := pl.RunWithSignals(context.Background())
	for _, name := range p.Names() {
		if r, ok := res.Operators[name]; ok {
			log.Info().Str("operator", name).Int("exit_code", r.ExitCode).Msg(r.String())
		}
	}
	return res.ExitCode()
}
