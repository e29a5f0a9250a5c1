package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"database/sql"

	"github.com/clearlane/tariffcore/pkg/verify"
)

func runReviewCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: tariffctl review <list|resolve|dismiss> [flags]")
		return 2
	}

	switch args[0] {
	case "list":
		return runReviewList(args[1:], stdout, stderr)
	case "resolve":
		return runReviewSetStatus(args[1:], verify.ReviewResolved, stdout, stderr)
	case "dismiss":
		return runReviewSetStatus(args[1:], verify.ReviewDismissed, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown review subcommand: %s\n", args[0])
		return 2
	}
}

func runReviewList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("review list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		status string
		limit  int
	)
	cmd.StringVar(&status, "status", "pending", "Queue status: pending|resolved|dismissed")
	cmd.IntVar(&limit, "limit", 50, "Maximum items to list")
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

	items, err := svcs.review.List(ctx, verify.ReviewStatus(status), limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(items) == 0 {
		fmt.Fprintf(stdout, "No %s items\n", status)
		return 0
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "%s  p%-2d %-12s %-22s %s\n",
			item.ID, item.Priority, item.HTSCode, item.BlockReason,
			item.CreatedAt.Format("2006-01-02 15:04"))
		if item.BlockDetails != "" {
			fmt.Fprintf(stdout, "    %s\n", item.BlockDetails)
		}
	}
	return 0
}

func runReviewSetStatus(args []string, status verify.ReviewStatus, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintf(stderr, "Usage: tariffctl review %s <id>\n", status)
		return 2
	}
	id := args[0]

	ctx := context.Background()
	svcs, err := openServices(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer svcs.close()

	if err := svcs.review.SetStatus(ctx, id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fmt.Fprintf(stderr, "Error: no review item %s\n", id)
			return 2
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s: %s\n", id, status)
	return 0
}
