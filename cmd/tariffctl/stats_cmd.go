package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/clearlane/tariffcore/pkg/config"
)

func runStatsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("stats", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	svcs, err := openServices(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer svcs.close()

	docStats, err := svcs.docs.Stats(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	assertions, err := svcs.assertions.Count(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	pending, err := svcs.review.PendingCount(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Documents:          %d (tier A: %d, failed: %d)\n",
		docStats.Documents, docStats.TierA, docStats.Failed)
	fmt.Fprintf(stdout, "Chunks:             %d\n", docStats.Chunks)
	fmt.Fprintf(stdout, "Verified facts:     %d\n", assertions)
	fmt.Fprintf(stdout, "Pending review:     %d\n", pending)
	return 0
}

func runLoadCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("load", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		csvPath  string
		seedPath string
	)
	cmd.StringVar(&csvPath, "csv", "", "Measures CSV file")
	cmd.StringVar(&seedPath, "seed", "", "Seed YAML file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if csvPath == "" && seedPath == "" {
		fmt.Fprintln(stderr, "Error: --csv or --seed is required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	svcs, err := openServices(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer svcs.close()

	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer f.Close()

		report, err := svcs.tariffs.LoadMeasuresCSV(ctx, f)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Loaded %d measures, skipped %d\n", report.Loaded, report.Skipped)
		for _, e := range report.Errors {
			fmt.Fprintf(stderr, "  row error: %s\n", e)
		}
	}

	if seedPath != "" {
		seed, err := config.LoadSeed(seedPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if err := seed.Apply(ctx, svcs.tariffs); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Applied seed %s\n", seedPath)
	}
	return 0
}
