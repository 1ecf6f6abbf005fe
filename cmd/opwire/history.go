package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tarungka/opwire/executor"
	"github.com/tarungka/opwire/internal/journal"
)

func historyCommand(args []string, stdout, stderr io.Writer) int {
	f := newFlagSet("history", stderr)
	f.String("journal", "opwire-journal.db", "journal file written by the journal plugin")
	f.String("pipeline", "", "only attempts of this pipeline")
	f.String("operator", "", "only attempts of this operator")
	f.Bool("transitions", false, "print the transitions of every attempt")

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

	j, err := journal.Open(ko.String("journal"), log)
	if err != nil {
		log.Err(err).Msg("error opening journal")
		return executor.ExitGeneralError
	}
	defer j.Close()

	attempts, err := j.Attempts(ko.String("pipeline"), ko.String("operator"))
	if err != nil {
		log.Err(err).Msg("error reading journal")
		return executor.ExitGeneralError
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ATTEMPT\tPIPELINE\tOPERATOR\tSTARTED\tRESULT\tEXIT")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Pipeline, a.Operator, a.StartedAt().Format(time.RFC3339), result(a), exitCode(a))
		if !ko.Bool("transitions") {
			continue
		}
		ts, err := j.Transitions(a.ID)
		if err != nil {
			log.Warn().Err(err).Str("attempt", a.ID).Msg("error reading transitions")
			continue
		}
		for _, t := range ts {
			fmt.Fprintf(w, "\t\t(%s)--[%s]-->(%s)\t%s\t%s\t\n",
				t.From, t.Signal, t.To, time.Unix(0, t.At).Format(time.RFC3339Nano), t.Error)
		}
	}
	if err := w.Flush(); err != nil {
		return executor.ExitGeneralError
	}
	return executor.ExitOK
}

func result(a journal.Attempt) string {
	switch {
	case !a.Done():
		return "running"
	case a.OK:
		return "StoppedOk"
	}
	return fmt.Sprintf("StoppedWithError(%s: %s)", a.Kind, a.Error)
}

func exitCode(a journal.Attempt) string {
	if !a.Done() {
		return "-"
	}
	return fmt.Sprint(a.ExitCode)
}
