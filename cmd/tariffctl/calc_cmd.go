package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/clearlane/tariffcore/pkg/money"
	"github.com/clearlane/tariffcore/pkg/section301"
	"github.com/clearlane/tariffcore/pkg/stacking"
	"github.com/clearlane/tariffcore/pkg/tariff"
)

func runCalcCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("calc", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		htsCode    string
		country    string
		date       string
		valueCents int64
		copper     int64
		steel      int64
		aluminum   int64
		mfnRate    float64
		jsonOut    bool
	)
	cmd.StringVar(&htsCode, "hts", "", "HTS code (REQUIRED)")
	cmd.StringVar(&country, "country", "", "ISO alpha-2 country of origin (REQUIRED)")
	cmd.StringVar(&date, "date", "", "Entry date YYYY-MM-DD (default today)")
	cmd.Int64Var(&valueCents, "value-cents", 0, "Declared value in cents (REQUIRED)")
	cmd.Int64Var(&copper, "copper-cents", 0, "Declared copper content value in cents")
	cmd.Int64Var(&steel, "steel-cents", 0, "Declared steel content value in cents")
	cmd.Int64Var(&aluminum, "aluminum-cents", 0, "Declared aluminum content value in cents")
	cmd.Float64Var(&mfnRate, "mfn-rate", 0, "Base MFN duty rate, e.g. 0.026")
	cmd.BoolVar(&jsonOut, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if htsCode == "" || country == "" || valueCents <= 0 {
		fmt.Fprintln(stderr, "Error: --hts, --country and --value-cents are required")
		cmd.Usage()
		return 2
	}

	entryDate := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			fmt.Fprintf(stderr, "Error: bad --date %q: %v\n", date, err)
			return 2
		}
		entryDate = parsed
	}

	ctx := context.Background()
	svcs, err := openServices(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer svcs.close()

	materials := map[string]money.Cents{}
	if copper > 0 {
		materials["copper"] = money.Cents(copper)
	}
	if steel > 0 {
		materials["steel"] = money.Cents(steel)
	}
	if aluminum > 0 {
		materials["aluminum"] = money.Cents(aluminum)
	}

	result, err := svcs.engine().Calculate(ctx, stacking.Request{
		HTSCode:      htsCode,
		Country:      country,
		EntryDate:    entryDate,
		ProductValue: money.Cents(valueCents),
		Materials:    materials,
		BaseMFNRate:  mfnRate,
	})
	if err != nil {
		var alloc *stacking.InvalidMaterialAllocationError
		var integrity *tariff.DataIntegrityError
		var horizon *section301.ErrEntryDateTooFar
		if errors.As(err, &alloc) || errors.As(err, &horizon) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if errors.As(err, &integrity) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	for _, entry := range result.Entries {
		fmt.Fprintf(stdout, "%-16s %12s\n", entry.SliceType, entry.LineValue)
		for _, line := range entry.Stack {
			fmt.Fprintf(stdout, "  %-22s %-10s %-9s %6.2f%% %12s\n",
				line.ProgramID, line.Chapter99Code, line.Action,
				line.DutyRate*100, line.DutyAmount)
		}
	}
	fmt.Fprintf(stdout, "\nTotal duty: %s  (effective rate %.2f%%)\n",
		result.TotalDuty.TotalDutyAmount, result.TotalDuty.EffectiveRate*100)
	for _, note := range result.Notes {
		fmt.Fprintf(stdout, "Note: %s\n", note)
	}
	return 0
}
