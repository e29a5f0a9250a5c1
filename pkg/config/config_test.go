package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clearlane/tariffcore/pkg/hts"
	"github.com/clearlane/tariffcore/pkg/sqldb"
	"github.com/clearlane/tariffcore/pkg/tariff"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"LOG_LEVEL", "DATABASE_URL", "STORAGE_BACKEND", "STORAGE_PATH",
		"READER_MODEL", "VALIDATOR_MODEL", "CONNECTOR_TIMEOUT",
		"REVIEW_PRIORITY_THRESHOLD", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"ENVIRONMENT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := Load()
	if cfg.DatabaseURL != "tariffcore.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.StorageBackend != "local" || cfg.StoragePath != "./storage" {
		t.Errorf("storage = %q, %q", cfg.StorageBackend, cfg.StoragePath)
	}
	if cfg.ReaderModel != "gpt-4o" || cfg.ValidatorModel != "gpt-4o" {
		t.Errorf("models = %q, %q", cfg.ReaderModel, cfg.ValidatorModel)
	}
	if cfg.ConnectorTimeout != 30*time.Second {
		t.Errorf("ConnectorTimeout = %v", cfg.ConnectorTimeout)
	}
	if cfg.ReviewPriority != 5 {
		t.Errorf("ReviewPriority = %d", cfg.ReviewPriority)
	}
	if cfg.OTLPEndpoint != "" || cfg.Environment != "development" {
		t.Errorf("otel = %q, %q", cfg.OTLPEndpoint, cfg.Environment)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://tariff:pw@db/corpus")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "tariff-docs")
	t.Setenv("VALIDATOR_MODEL", "gpt-4o-mini")
	t.Setenv("CONNECTOR_TIMEOUT", "90s")
	t.Setenv("REVIEW_PRIORITY_THRESHOLD", "8")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := Load()
	if cfg.DatabaseURL != "postgres://tariff:pw@db/corpus" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.StorageBackend != "s3" || cfg.S3Bucket != "tariff-docs" {
		t.Errorf("storage = %q, %q", cfg.StorageBackend, cfg.S3Bucket)
	}
	if cfg.ValidatorModel != "gpt-4o-mini" {
		t.Errorf("ValidatorModel = %q", cfg.ValidatorModel)
	}
	if cfg.ConnectorTimeout != 90*time.Second {
		t.Errorf("ConnectorTimeout = %v", cfg.ConnectorTimeout)
	}
	if cfg.ReviewPriority != 8 {
		t.Errorf("ReviewPriority = %d", cfg.ReviewPriority)
	}
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Errorf("OTLPEndpoint = %q", cfg.OTLPEndpoint)
	}
}

func TestLoadBadTimeoutFallsBack(t *testing.T) {
	t.Setenv("CONNECTOR_TIMEOUT", "soon")
	if cfg := Load(); cfg.ConnectorTimeout != 30*time.Second {
		t.Errorf("ConnectorTimeout = %v, want default", cfg.ConnectorTimeout)
	}
}

const seedYAML = `
measures:
  - program: section_301_note20
    ch99_heading: "9903.88.03"
    scope_type: HTS8
    scope_value: "85444290"
    rate: 0.25
    effective_start: "2019-05-10"
    source: "84 FR 20459"
  - program: ieepa_fentanyl
    ch99_heading: "9903.01.24"
    scope_type: ALL
    scope_value: ""
    rate: 0.10
    effective_start: "2025-03-04"

applicability:
  - program: ieepa_fentanyl
    country: CN
    effective_start: "2025-03-04"
  - program: section_232_steel
    country: ALL
    effective_start: "2025-06-04"

country_mappings:
  - census_code: "5700"
    iso: CN
    ch99_country_heading: "9903.01.63"
    reciprocal_rate: 0.10
    effective_start: "2025-04-05"

annex_ii:
  - hts8: "85423100"
    effective_start: "2025-04-05"

country_policies:
  - country: HK
    treatment: not_applicable
    effective_start: "2019-01-01"
`

func TestSeedApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(seed.Measures) != 2 || len(seed.Applicability) != 2 {
		t.Fatalf("parsed seed = %+v", seed)
	}

	db, err := sqldb.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	store, err := tariff.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	if err := seed.Apply(ctx, store); err != nil {
		t.Fatalf("apply: %v", err)
	}

	d := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	measures, err := store.Lookup(ctx, tariff.Section301Note20, hts.MustNormalize("8544.42.9090"), d)
	if err != nil || len(measures) != 1 {
		t.Fatalf("lookup = %v, %v", measures, err)
	}
	if measures[0].Ch99Heading != "9903.88.03" || measures[0].SourceVersionID != "84 FR 20459" {
		t.Errorf("measure = %+v", measures[0])
	}

	ok, err := store.CountryApplies(ctx, tariff.IEEPAFentanyl, "CN", d)
	if err != nil || !ok {
		t.Errorf("fentanyl CN = %v, %v", ok, err)
	}
	mapping, found, err := store.ReciprocalMapping(ctx, "CN", d)
	if err != nil || !found || mapping.ReciprocalRate != 0.10 {
		t.Errorf("mapping = %+v, %v, %v", mapping, found, err)
	}
	annex, err := store.IsAnnexII(ctx, "85423100", d)
	if err != nil || !annex {
		t.Errorf("annex ii = %v, %v", annex, err)
	}
	treatment, err := store.CountryPolicy(ctx, "HK", d)
	if err != nil || treatment != tariff.TreatmentNotApplicable {
		t.Errorf("HK policy = %v, %v", treatment, err)
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	if _, err := LoadSeed("/no/such/seed.yaml"); err == nil {
		t.Error("missing seed file accepted")
	}
}
