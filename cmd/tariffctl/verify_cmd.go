package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/clearlane/tariffcore/pkg/verify"
)

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		htsCode  string
		program  string
		material string
		jsonOut  bool
	)
	cmd.StringVar(&htsCode, "hts", "", "HTS code (REQUIRED)")
	cmd.StringVar(&program, "program", "", "Program id, e.g. section_232_copper (REQUIRED)")
	cmd.StringVar(&material, "material", "", "Material for content questions")
	cmd.BoolVar(&jsonOut, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if htsCode == "" || program == "" {
		fmt.Fprintln(stderr, "Error: --hts and --program are required")
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

	result, err := svcs.verifyService().VerifyScope(ctx, verify.Question{
		ProgramID: program,
		HTSCode:   htsCode,
		Material:  material,
	}, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "Source:   %s\n", result.Source)
	fmt.Fprintf(stdout, "Verified: %v\n", result.IsVerified)
	if result.InScope != nil {
		fmt.Fprintf(stdout, "In scope: %v\n", *result.InScope)
	}
	if len(result.ClaimCodes) > 0 {
		fmt.Fprintf(stdout, "Claim:    %v\n", result.ClaimCodes)
	}
	if len(result.DisclaimCodes) > 0 {
		fmt.Fprintf(stdout, "Disclaim: %v\n", result.DisclaimCodes)
	}
	if result.EvidenceQuote != "" {
		fmt.Fprintf(stdout, "Evidence: %q\n", result.EvidenceQuote)
		fmt.Fprintf(stdout, "  document %s chunk %s\n", result.DocumentID, result.ChunkID)
	}
	return 0
}
