package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/clearlane/tariffcore/pkg/ingest"
)

func runIngestCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ingest", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		source  string
		url     string
		jsonOut bool
	)
	cmd.StringVar(&source, "source", "", "Connector name: csms|govinfo|usitc (REQUIRED)")
	cmd.StringVar(&url, "url", "", "Document URL (REQUIRED)")
	cmd.BoolVar(&jsonOut, "json", false, "Output report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if source == "" || url == "" {
		fmt.Fprintln(stderr, "Error: --source and --url are required")
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

	orch := ingest.New(svcs.docs, svcs.blobs, ingest.Options{
		ConnectorTimeout: svcs.cfg.ConnectorTimeout,
		Timeline:         svcs.timeline,
	})
	report, err := orch.IngestURL(ctx, source, url)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !report.Success {
		fmt.Fprintf(stderr, "Fetch failed after %d attempts: %s\n", report.Attempts, report.Error)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}
	fmt.Fprintf(stdout, "Ingested %s\n", report.CanonicalID)
	fmt.Fprintf(stdout, "  document: %s (created=%v changed=%v)\n",
		report.DocumentID, report.Created, report.ContentChanged)
	fmt.Fprintf(stdout, "  storage:  %s\n", report.StorageURI)
	fmt.Fprintf(stdout, "  chunks:   %d\n", report.ChunkCount)
	return 0
}

func runReindexCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reindex-chunks", flag.ContinueOnError)
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

	orch := ingest.New(svcs.docs, svcs.blobs, ingest.Options{Timeline: svcs.timeline})
	docs, chunks, err := orch.ReindexChunks(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Reindexed %d documents, %d chunks\n", docs, chunks)
	return 0
}
