package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clearlane/tariffcore/pkg/tariff"
)

// Seed is the YAML shape of an initial corpus load: measures,
// program/country applicability, country mappings, Annex-II listings and
// Section-301 country policies. Dates are "2006-01-02".
type Seed struct {
	Measures []struct {
		Program        string  `yaml:"program"`
		Ch99Heading    string  `yaml:"ch99_heading"`
		ScopeType      string  `yaml:"scope_type"` // HTS8 | HTS10 | ALL
		ScopeValue     string  `yaml:"scope_value"`
		Rate           float64 `yaml:"rate"`
		RateStatus     string  `yaml:"rate_status,omitempty"`
		ArticleType    string  `yaml:"article_type,omitempty"`
		EffectiveStart string  `yaml:"effective_start"`
		EffectiveEnd   string  `yaml:"effective_end,omitempty"`
		Source         string  `yaml:"source,omitempty"`
	} `yaml:"measures"`

	Applicability []struct {
		Program        string `yaml:"program"`
		Country        string `yaml:"country"` // ISO alpha-2 or ALL
		EffectiveStart string `yaml:"effective_start"`
		EffectiveEnd   string `yaml:"effective_end,omitempty"`
	} `yaml:"applicability"`

	CountryMappings []struct {
		CensusCode         string  `yaml:"census_code,omitempty"`
		ISO                string  `yaml:"iso"`
		Ch99CountryHeading string  `yaml:"ch99_country_heading,omitempty"`
		ReciprocalRate     float64 `yaml:"reciprocal_rate,omitempty"`
		EffectiveStart     string  `yaml:"effective_start"`
		EffectiveEnd       string  `yaml:"effective_end,omitempty"`
	} `yaml:"country_mappings"`

	AnnexII []struct {
		HTS8           string `yaml:"hts8"`
		EffectiveStart string `yaml:"effective_start"`
		EffectiveEnd   string `yaml:"effective_end,omitempty"`
	} `yaml:"annex_ii"`

	CountryPolicies []struct {
		Country        string `yaml:"country"`
		Treatment      string `yaml:"treatment"` // apply | not_applicable
		EffectiveStart string `yaml:"effective_start"`
	} `yaml:"country_policies"`
}

// LoadSeed parses a seed YAML file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load seed %q: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", path, err)
	}
	return &seed, nil
}

func seedDate(v string) (time.Time, error) {
	return time.Parse("2006-01-02", v)
}

func seedDatePtr(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := seedDate(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Apply loads the seed into the tariff store, in declaration order.
func (s *Seed) Apply(ctx context.Context, store *tariff.Store) error {
	for _, m := range s.Measures {
		start, err := seedDate(m.EffectiveStart)
		if err != nil {
			return fmt.Errorf("seed measure %s/%s: %w", m.Program, m.ScopeValue, err)
		}
		end, err := seedDatePtr(m.EffectiveEnd)
		if err != nil {
			return fmt.Errorf("seed measure %s/%s: %w", m.Program, m.ScopeValue, err)
		}
		status := tariff.RateStatus(m.RateStatus)
		if status == "" {
			status = tariff.RateConfirmed
		}
		article := tariff.ArticleType(m.ArticleType)
		if article == "" {
			article = tariff.ArticlePrimary
		}
		measure := &tariff.Measure{
			ProgramID:       tariff.ProgramID(m.Program),
			Ch99Heading:     m.Ch99Heading,
			ScopeType:       tariff.ScopeHTSType(m.ScopeType),
			ScopeValue:      m.ScopeValue,
			EffectiveStart:  start,
			EffectiveEnd:    end,
			AdditionalRate:  m.Rate,
			RateStatus:      status,
			Role:            tariff.RoleImpose,
			ArticleType:     article,
			SourceVersionID: m.Source,
		}
		if err := store.InsertMeasure(ctx, measure); err != nil {
			return err
		}
	}

	for _, a := range s.Applicability {
		start, err := seedDate(a.EffectiveStart)
		if err != nil {
			return fmt.Errorf("seed applicability %s/%s: %w", a.Program, a.Country, err)
		}
		end, err := seedDatePtr(a.EffectiveEnd)
		if err != nil {
			return fmt.Errorf("seed applicability %s/%s: %w", a.Program, a.Country, err)
		}
		if err := store.AddApplicability(ctx, &tariff.Applicability{
			ProgramID:      tariff.ProgramID(a.Program),
			CountryCode:    a.Country,
			EffectiveStart: start,
			EffectiveEnd:   end,
		}); err != nil {
			return err
		}
	}

	for _, c := range s.CountryMappings {
		start, err := seedDate(c.EffectiveStart)
		if err != nil {
			return fmt.Errorf("seed country mapping %s: %w", c.ISO, err)
		}
		end, err := seedDatePtr(c.EffectiveEnd)
		if err != nil {
			return fmt.Errorf("seed country mapping %s: %w", c.ISO, err)
		}
		if err := store.AddCountryMapping(ctx, &tariff.CountryMapping{
			CensusCode:         c.CensusCode,
			ISOAlpha2:          c.ISO,
			Ch99CountryHeading: c.Ch99CountryHeading,
			ReciprocalRate:     c.ReciprocalRate,
			EffectiveStart:     start,
			EffectiveEnd:       end,
		}); err != nil {
			return err
		}
	}

	for _, a := range s.AnnexII {
		start, err := seedDate(a.EffectiveStart)
		if err != nil {
			return fmt.Errorf("seed annex ii %s: %w", a.HTS8, err)
		}
		end, err := seedDatePtr(a.EffectiveEnd)
		if err != nil {
			return fmt.Errorf("seed annex ii %s: %w", a.HTS8, err)
		}
		if err := store.AddAnnexII(ctx, a.HTS8, start, end); err != nil {
			return err
		}
	}

	for _, p := range s.CountryPolicies {
		start, err := seedDate(p.EffectiveStart)
		if err != nil {
			return fmt.Errorf("seed country policy %s: %w", p.Country, err)
		}
		if err := store.SetCountryPolicy(ctx, p.Country,
			tariff.CountryTreatment(p.Treatment), start); err != nil {
			return err
		}
	}
	return nil
}
