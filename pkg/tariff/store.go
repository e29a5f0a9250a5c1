package tariff

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/clearlane/tariffcore/pkg/hts"
	"github.com/clearlane/tariffcore/pkg/sqldb"
)

// ErrConcurrentSupersession is returned when two writers raced to close
// the same current row; the caller may retry or treat it as a no-op if
// its measure was inserted by the winner.
var ErrConcurrentSupersession = fmt.Errorf("tariff: concurrent supersession, retry")

// Store persists the tariff corpus. All writes are SCD-2: a new row
// closes the prior current row in the same transaction.
type Store struct {
	db     *sqldb.DB
	logger *slog.Logger
}

// NewStore opens the store and ensures the schema exists.
func NewStore(db *sqldb.DB) (*Store, error) {
	s := &Store{db: db, logger: slog.Default().With("component", "tariff-store")}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) serialPK() string {
	if s.db.Driver == "postgres" {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (s *Store) migrate() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tariff_measures (
			id %s,
			program_id TEXT NOT NULL,
			ch99_heading TEXT NOT NULL,
			scope_hts_type TEXT NOT NULL,
			scope_hts_value TEXT NOT NULL,
			effective_start TEXT NOT NULL,
			effective_end TEXT,
			additional_rate REAL NOT NULL,
			rate_status TEXT NOT NULL DEFAULT 'confirmed',
			role TEXT NOT NULL DEFAULT 'impose',
			article_type TEXT NOT NULL DEFAULT 'primary',
			source_version_id TEXT NOT NULL DEFAULT '',
			supersedes_id BIGINT
		)`, s.serialPK()),
		`CREATE INDEX IF NOT EXISTS idx_measures_scope
			ON tariff_measures (program_id, scope_hts_value, effective_start)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS exclusion_claims (
			id %s,
			exclusion_id TEXT NOT NULL,
			note_bucket TEXT NOT NULL,
			claim_ch99_heading TEXT NOT NULL,
			source_heading TEXT NOT NULL,
			hts10_exact TEXT NOT NULL DEFAULT '[]',
			hts8_prefix TEXT NOT NULL DEFAULT '[]',
			scope_text TEXT NOT NULL DEFAULT '',
			scope_text_hash TEXT NOT NULL DEFAULT '',
			effective_start TEXT NOT NULL,
			effective_end TEXT,
			verification_required INTEGER NOT NULL DEFAULT 1
		)`, s.serialPK()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS country_mappings (
			id %s,
			census_code TEXT NOT NULL DEFAULT '',
			iso_alpha2 TEXT NOT NULL,
			ch99_country_heading TEXT NOT NULL DEFAULT '',
			reciprocal_rate REAL NOT NULL DEFAULT 0,
			effective_start TEXT NOT NULL,
			effective_end TEXT
		)`, s.serialPK()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS program_applicability (
			id %s,
			program_id TEXT NOT NULL,
			country_code TEXT NOT NULL,
			effective_start TEXT NOT NULL,
			effective_end TEXT
		)`, s.serialPK()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS hts_code_history (
			id %s,
			hts10 TEXT NOT NULL,
			effective_start TEXT NOT NULL,
			effective_end TEXT
		)`, s.serialPK()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS annex_ii (
			id %s,
			hts8 TEXT NOT NULL,
			effective_start TEXT NOT NULL,
			effective_end TEXT
		)`, s.serialPK()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS section301_country_policy (
			id %s,
			country_code TEXT NOT NULL,
			treatment TEXT NOT NULL,
			effective_start TEXT NOT NULL,
			effective_end TEXT
		)`, s.serialPK()),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("tariff: migrate: %w", err)
		}
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

// InsertMeasure appends a measure, closing any prior current row for the
// same (program, role, scope) atomically. The close is a compare-and-swap
// on effective_end IS NULL so two concurrent writers resolve to exactly
// one success.
func (s *Store) InsertMeasure(ctx context.Context, m *Measure) error {
	if m.EffectiveEnd != nil && !m.EffectiveStart.Before(*m.EffectiveEnd) {
		return &DataIntegrityError{Detail: fmt.Sprintf(
			"measure %s/%s effective_start not before effective_end", m.ProgramID, m.ScopeValue)}
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.db.Rebind(`
			SELECT id, effective_start FROM tariff_measures
			WHERE program_id = ? AND role = ? AND scope_hts_type = ? AND scope_hts_value = ?
			  AND effective_end IS NULL`),
			string(m.ProgramID), string(m.Role), string(m.ScopeType), m.ScopeValue)

		var priorID int64
		var priorStart string
		switch err := row.Scan(&priorID, &priorStart); err {
		case nil:
			if !parseTime(priorStart).Before(m.EffectiveStart) {
				return &DataIntegrityError{Detail: fmt.Sprintf(
					"measure %s/%s: new window starts %s at or before current row start %s",
					m.ProgramID, m.ScopeValue, fmtTime(m.EffectiveStart), priorStart)}
			}
			res, err := tx.ExecContext(ctx, s.db.Rebind(`
				UPDATE tariff_measures SET effective_end = ?
				WHERE id = ? AND effective_end IS NULL`),
				fmtTime(m.EffectiveStart), priorID)
			if err != nil {
				return fmt.Errorf("tariff: close prior row: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrConcurrentSupersession
			}
			m.SupersedesID = &priorID
		case sql.ErrNoRows:
			// First row for this scope.
		default:
			return fmt.Errorf("tariff: query current row: %w", err)
		}

		res, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO tariff_measures (
				program_id, ch99_heading, scope_hts_type, scope_hts_value,
				effective_start, effective_end, additional_rate, rate_status,
				role, article_type, source_version_id, supersedes_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			string(m.ProgramID), m.Ch99Heading, string(m.ScopeType), m.ScopeValue,
			fmtTime(m.EffectiveStart), fmtTimePtr(m.EffectiveEnd), m.AdditionalRate,
			string(m.RateStatus), string(m.Role), string(m.ArticleType),
			m.SourceVersionID, m.SupersedesID)
		if err != nil {
			return fmt.Errorf("tariff: insert measure: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			m.ID = id
		}
		return nil
	})
}

const measureColumns = `id, program_id, ch99_heading, scope_hts_type, scope_hts_value,
	effective_start, effective_end, additional_rate, rate_status, role, article_type,
	source_version_id, supersedes_id`

func scanMeasure(rows *sql.Rows) (Measure, error) {
	var m Measure
	var start string
	var end, source sql.NullString
	var supersedes sql.NullInt64
	var program, scopeType, status, role, article string
	err := rows.Scan(&m.ID, &program, &m.Ch99Heading, &scopeType, &m.ScopeValue,
		&start, &end, &m.AdditionalRate, &status, &role, &article, &source, &supersedes)
	if err != nil {
		return m, err
	}
	m.ProgramID = ProgramID(program)
	m.ScopeType = ScopeHTSType(scopeType)
	m.RateStatus = RateStatus(status)
	m.Role = Role(role)
	m.ArticleType = ArticleType(article)
	m.EffectiveStart = parseTime(start)
	m.EffectiveEnd = parseTimePtr(end)
	m.SourceVersionID = source.String
	if supersedes.Valid {
		v := supersedes.Int64
		m.SupersedesID = &v
	}
	return m, nil
}

func scopeRank(t ScopeHTSType) int {
	switch t {
	case ScopeHTS10:
		return 0
	case ScopeHTS8:
		return 1
	default:
		return 2
	}
}

// Lookup returns impose measures covering the code on the entry date, in
// precedence order: HTS10 matches before HTS8 before ALL, then latest
// effective_start first. A code nobody enumerates yields an empty list,
// not an error.
func (s *Store) Lookup(ctx context.Context, program ProgramID, code hts.Code, entryDate time.Time) ([]Measure, error) {
	d := fmtTime(entryDate)
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+measureColumns+` FROM tariff_measures
		WHERE program_id = ? AND role = 'impose'
		  AND effective_start <= ?
		  AND (effective_end IS NULL OR effective_end > ?)
		  AND ((scope_hts_type = 'HTS10' AND scope_hts_value = ?)
		    OR (scope_hts_type = 'HTS8' AND scope_hts_value = ?)
		    OR scope_hts_type = 'ALL')`),
		string(program), d, d, code.HTS10(), code.HTS8())
	if err != nil {
		return nil, fmt.Errorf("tariff: lookup: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Measure
	for rows.Next() {
		m, err := scanMeasure(rows)
		if err != nil {
			return nil, fmt.Errorf("tariff: scan measure: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tariff: lookup rows: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := scopeRank(out[i].ScopeType), scopeRank(out[j].ScopeType); ri != rj {
			return ri < rj
		}
		return out[i].EffectiveStart.After(out[j].EffectiveStart)
	})

	// Invariant: at most one current impose row per (program, scope).
	seen := make(map[string]int)
	for _, m := range out {
		key := string(m.ScopeType) + "/" + m.ScopeValue
		seen[key]++
		if seen[key] > 1 {
			return nil, &DataIntegrityError{Detail: fmt.Sprintf(
				"overlapping effective windows for %s scope %s on %s", program, key, d)}
		}
	}
	return out, nil
}

// AddExclusion stores an exclusion claim.
func (s *Store) AddExclusion(ctx context.Context, e *ExclusionClaim) error {
	hts10JSON, _ := json.Marshal(e.HTS10Exact)
	hts8JSON, _ := json.Marshal(e.HTS8Prefix)
	verif := 0
	if e.VerificationRequired {
		verif = 1
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO exclusion_claims (
			exclusion_id, note_bucket, claim_ch99_heading, source_heading,
			hts10_exact, hts8_prefix, scope_text, scope_text_hash,
			effective_start, effective_end, verification_required
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ExclusionID, e.NoteBucket, e.ClaimCh99Heading, e.SourceHeading,
		string(hts10JSON), string(hts8JSON), e.ScopeText, e.ScopeTextHash,
		fmtTime(e.EffectiveStart), fmtTimePtr(e.EffectiveEnd), verif)
	if err != nil {
		return fmt.Errorf("tariff: insert exclusion: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// FindExclusions returns claims that cover the code on the date and
// suppress the given impose heading. An empty sourceHeading matches any.
func (s *Store) FindExclusions(ctx context.Context, sourceHeading string, code hts.Code, d time.Time) ([]ExclusionClaim, error) {
	ds := fmtTime(d)
	query := `
		SELECT id, exclusion_id, note_bucket, claim_ch99_heading, source_heading,
			hts10_exact, hts8_prefix, scope_text, scope_text_hash,
			effective_start, effective_end, verification_required
		FROM exclusion_claims
		WHERE effective_start <= ? AND (effective_end IS NULL OR effective_end > ?)`
	args := []any{ds, ds}
	if sourceHeading != "" {
		query += ` AND source_heading = ?`
		args = append(args, sourceHeading)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("tariff: find exclusions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ExclusionClaim
	for rows.Next() {
		var e ExclusionClaim
		var start string
		var end sql.NullString
		var hts10JSON, hts8JSON string
		var verif int
		if err := rows.Scan(&e.ID, &e.ExclusionID, &e.NoteBucket, &e.ClaimCh99Heading,
			&e.SourceHeading, &hts10JSON, &hts8JSON, &e.ScopeText, &e.ScopeTextHash,
			&start, &end, &verif); err != nil {
			return nil, fmt.Errorf("tariff: scan exclusion: %w", err)
		}
		_ = json.Unmarshal([]byte(hts10JSON), &e.HTS10Exact)
		_ = json.Unmarshal([]byte(hts8JSON), &e.HTS8Prefix)
		e.EffectiveStart = parseTime(start)
		e.EffectiveEnd = parseTimePtr(end)
		e.VerificationRequired = verif != 0
		if e.Matches(code.HTS10(), code.HTS8(), d) {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tariff: exclusion rows: %w", err)
	}
	return out, nil
}

// AddApplicability records that a program applies to a country (or ALL)
// from an effective date.
func (s *Store) AddApplicability(ctx context.Context, a *Applicability) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO program_applicability (program_id, country_code, effective_start, effective_end)
		VALUES (?, ?, ?, ?)`),
		string(a.ProgramID), a.CountryCode, fmtTime(a.EffectiveStart), fmtTimePtr(a.EffectiveEnd))
	if err != nil {
		return fmt.Errorf("tariff: insert applicability: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// CountryApplies reports whether a program's country scope includes the
// country on the date.
func (s *Store) CountryApplies(ctx context.Context, program ProgramID, country string, d time.Time) (bool, error) {
	ds := fmtTime(d)
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COUNT(1) FROM program_applicability
		WHERE program_id = ? AND (country_code = ? OR country_code = ?)
		  AND effective_start <= ? AND (effective_end IS NULL OR effective_end > ?)`),
		string(program), country, CountryAll, ds, ds)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("tariff: country applicability: %w", err)
	}
	return n > 0, nil
}

// AddCountryMapping stores a census-code / Annex-II heading mapping row.
func (s *Store) AddCountryMapping(ctx context.Context, c *CountryMapping) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO country_mappings (census_code, iso_alpha2, ch99_country_heading,
			reciprocal_rate, effective_start, effective_end)
		VALUES (?, ?, ?, ?, ?, ?)`),
		c.CensusCode, c.ISOAlpha2, c.Ch99CountryHeading, c.ReciprocalRate,
		fmtTime(c.EffectiveStart), fmtTimePtr(c.EffectiveEnd))
	if err != nil {
		return fmt.Errorf("tariff: insert country mapping: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// ReciprocalMapping returns the IEEPA Reciprocal Annex-II heading and rate
// for a country on a date.
func (s *Store) ReciprocalMapping(ctx context.Context, iso string, d time.Time) (CountryMapping, bool, error) {
	ds := fmtTime(d)
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, census_code, iso_alpha2, ch99_country_heading, reciprocal_rate,
			effective_start, effective_end
		FROM country_mappings
		WHERE iso_alpha2 = ? AND ch99_country_heading != ''
		  AND effective_start <= ? AND (effective_end IS NULL OR effective_end > ?)
		ORDER BY effective_start DESC LIMIT 1`),
		iso, ds, ds)
	var c CountryMapping
	var start string
	var end sql.NullString
	err := row.Scan(&c.ID, &c.CensusCode, &c.ISOAlpha2, &c.Ch99CountryHeading,
		&c.ReciprocalRate, &start, &end)
	if err == sql.ErrNoRows {
		return CountryMapping{}, false, nil
	}
	if err != nil {
		return CountryMapping{}, false, fmt.Errorf("tariff: reciprocal mapping: %w", err)
	}
	c.EffectiveStart = parseTime(start)
	c.EffectiveEnd = parseTimePtr(end)
	return c, true, nil
}

// CensusToISO resolves a census country code on a date.
func (s *Store) CensusToISO(ctx context.Context, censusCode string, d time.Time) (string, bool, error) {
	ds := fmtTime(d)
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT iso_alpha2 FROM country_mappings
		WHERE census_code = ?
		  AND effective_start <= ? AND (effective_end IS NULL OR effective_end > ?)
		ORDER BY effective_start DESC LIMIT 1`),
		censusCode, ds, ds)
	var iso string
	err := row.Scan(&iso)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("tariff: census mapping: %w", err)
	}
	return iso, true, nil
}

// AddHtsHistory records a validity window for an HTS10 code.
func (s *Store) AddHtsHistory(ctx context.Context, hts10 string, start time.Time, end *time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO hts_code_history (hts10, effective_start, effective_end)
		VALUES (?, ?, ?)`),
		hts10, fmtTime(start), fmtTimePtr(end))
	if err != nil {
		return fmt.Errorf("tariff: insert hts history: %w", err)
	}
	return nil
}

// HtsValidOn reports whether a code was valid on a date. A code with no
// history rows is treated as valid; history is advisory until the corpus
// is fully loaded.
func (s *Store) HtsValidOn(ctx context.Context, hts10 string, d time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COUNT(1) FROM hts_code_history WHERE hts10 = ?`), hts10)
	var total int
	if err := row.Scan(&total); err != nil {
		return false, fmt.Errorf("tariff: hts history: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	ds := fmtTime(d)
	row = s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COUNT(1) FROM hts_code_history
		WHERE hts10 = ? AND effective_start <= ?
		  AND (effective_end IS NULL OR effective_end > ?)`),
		hts10, ds, ds)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("tariff: hts history window: %w", err)
	}
	return n > 0, nil
}

// AddAnnexII marks an HTS8 as exempt from IEEPA Reciprocal.
func (s *Store) AddAnnexII(ctx context.Context, hts8 string, start time.Time, end *time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO annex_ii (hts8, effective_start, effective_end)
		VALUES (?, ?, ?)`),
		hts8, fmtTime(start), fmtTimePtr(end))
	if err != nil {
		return fmt.Errorf("tariff: insert annex ii: %w", err)
	}
	return nil
}

// IsAnnexII reports whether the HTS8 is Annex-II exempt on the date.
func (s *Store) IsAnnexII(ctx context.Context, hts8 string, d time.Time) (bool, error) {
	ds := fmtTime(d)
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COUNT(1) FROM annex_ii
		WHERE hts8 = ? AND effective_start <= ?
		  AND (effective_end IS NULL OR effective_end > ?)`),
		hts8, ds, ds)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("tariff: annex ii: %w", err)
	}
	return n > 0, nil
}

// SetCountryPolicy records a Section-301 country-gate treatment row.
func (s *Store) SetCountryPolicy(ctx context.Context, country string, treatment CountryTreatment, start time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO section301_country_policy (country_code, treatment, effective_start)
		VALUES (?, ?, ?)`),
		country, string(treatment), fmtTime(start))
	if err != nil {
		return fmt.Errorf("tariff: insert country policy: %w", err)
	}
	return nil
}

// CountryPolicy returns the Section-301 treatment for a country. Mainland
// China applies by default; Hong Kong and Macau routing is data because it
// is policy-dependent.
func (s *Store) CountryPolicy(ctx context.Context, country string, d time.Time) (CountryTreatment, error) {
	ds := fmtTime(d)
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT treatment FROM section301_country_policy
		WHERE country_code = ?
		  AND effective_start <= ? AND (effective_end IS NULL OR effective_end > ?)
		ORDER BY effective_start DESC LIMIT 1`),
		country, ds, ds)
	var treatment string
	err := row.Scan(&treatment)
	switch {
	case err == sql.ErrNoRows:
		if country == "CN" {
			return TreatmentApply, nil
		}
		return TreatmentNotApplicable, nil
	case err != nil:
		return TreatmentNotApplicable, fmt.Errorf("tariff: country policy: %w", err)
	}
	return CountryTreatment(treatment), nil
}
