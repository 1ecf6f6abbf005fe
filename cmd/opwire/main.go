package main

import (
	"fmt"
	"io"
	"os"

	"github.com/tarungka/opwire/executor"
)

var buildString = "unknown"

const usage = `usage: opwire <command> [flags]

commands:
  run       run a pipeline, or some of its operators
  history   list attempts recorded by the journal plugin
  version   print the build version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "run":
		return runCommand(args[1:], stderr)
	case "history":
		return historyCommand(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, buildString)
		return executor.ExitOK
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return executor.ExitOK
	}
	fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
	return 2
}
