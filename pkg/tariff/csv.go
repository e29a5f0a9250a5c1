package tariff

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/clearlane/tariffcore/pkg/hts"
)

// LoadReport summarizes a CSV initial load.
type LoadReport struct {
	Loaded  int
	Skipped int
	Errors  []string
}

// LoadMeasuresCSV bulk-loads impose measures from the initial-load CSV.
//
// Expected columns (header row required, order free):
// program_id, hts_8digit, chapter_99_code, duty_rate, effective_start,
// effective_end, list_name, source. hts_8digit may carry a 10-digit code;
// precision is recorded from what is supplied.
func (s *Store) LoadMeasuresCSV(ctx context.Context, r io.Reader) (*LoadReport, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("tariff: read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"program_id", "hts_8digit", "chapter_99_code", "duty_rate", "effective_start"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("tariff: csv missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	report := &LoadReport{}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		program := ProgramID(field(rec, "program_id"))
		if _, ok := ProgramByID(program); !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: unknown program %q", line, program))
			continue
		}

		code, err := hts.Normalize(field(rec, "hts_8digit"))
		if err != nil || code.Length < hts.Digits8 {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad hts %q", line, field(rec, "hts_8digit")))
			continue
		}
		scopeType := ScopeHTS8
		scopeValue := code.HTS8()
		if code.Length == hts.Digits10 {
			scopeType = ScopeHTS10
			scopeValue = code.HTS10()
		}

		rate, err := strconv.ParseFloat(field(rec, "duty_rate"), 64)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad duty_rate %q", line, field(rec, "duty_rate")))
			continue
		}

		start, err := time.Parse("2006-01-02", field(rec, "effective_start"))
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad effective_start %q", line, field(rec, "effective_start")))
			continue
		}
		var end *time.Time
		if v := field(rec, "effective_end"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad effective_end %q", line, v))
				continue
			}
			end = &t
		}

		m := &Measure{
			ProgramID:       program,
			Ch99Heading:     field(rec, "chapter_99_code"),
			ScopeType:       scopeType,
			ScopeValue:      scopeValue,
			EffectiveStart:  start,
			EffectiveEnd:    end,
			AdditionalRate:  rate,
			RateStatus:      RateConfirmed,
			Role:            RoleImpose,
			ArticleType:     ArticlePrimary,
			SourceVersionID: field(rec, "source"),
		}
		if err := s.InsertMeasure(ctx, m); err != nil {
			if _, ok := err.(*DataIntegrityError); ok {
				report.Skipped++
				s.logger.Warn("skipping overlapping measure",
					"line", line, "program", program, "scope", scopeValue, "err", err)
				continue
			}
			return report, fmt.Errorf("tariff: load line %d: %w", line, err)
		}
		report.Loaded++
	}
	return report, nil
}
