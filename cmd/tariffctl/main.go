// Command tariffctl is the admin CLI for the tariff core: duty
// calculation, document ingestion, scope verification, review-queue
// management and corpus loading.
//
// Exit codes: 0 success, 2 validation error, 1 infrastructure error.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches the subcommand; separated from main for tests.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "calc":
		return runCalcCmd(args[2:], stdout, stderr)
	case "ingest":
		return runIngestCmd(args[2:], stdout, stderr)
	case "reindex-chunks":
		return runReindexCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "review":
		return runReviewCmd(args[2:], stdout, stderr)
	case "stats":
		return runStatsCmd(args[2:], stdout, stderr)
	case "load":
		return runLoadCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "tariffctl - U.S. additional tariff engine")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  tariffctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "CALCULATION:")
	fmt.Fprintln(w, "  calc            Compute duty stack (--hts --country --date --value-cents)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "CORPUS:")
	fmt.Fprintln(w, "  ingest          Fetch one URL through a connector (--source --url)")
	fmt.Fprintln(w, "  reindex-chunks  Re-run the chunker over all documents")
	fmt.Fprintln(w, "  load            Load measures CSV or seed YAML (--csv | --seed)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "VERIFICATION:")
	fmt.Fprintln(w, "  verify          Run a scope verification (--hts --program [--material])")
	fmt.Fprintln(w, "  review          Manage the review queue (list|resolve|dismiss)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  stats           Corpus and queue counts")
	fmt.Fprintln(w, "  help            Show this help")
	fmt.Fprintln(w, "")
}
