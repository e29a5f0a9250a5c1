package verify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clearlane/tariffcore/pkg/sqldb"
)

// AssertionStore is the SCD-2 truth table of verified scope decisions.
// Rows are append-only; supersession closes the prior current row for the
// same (program, hts, material, assertion_type) in the same transaction.
type AssertionStore struct {
	db *sqldb.DB
}

// NewAssertionStore opens the store and ensures the schema exists.
func NewAssertionStore(db *sqldb.DB) (*AssertionStore, error) {
	s := &AssertionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AssertionStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS verified_assertions (
			id TEXT PRIMARY KEY,
			program_id TEXT NOT NULL,
			hts_code_norm TEXT NOT NULL,
			hts_digits INTEGER NOT NULL,
			material TEXT NOT NULL DEFAULT '',
			assertion_type TEXT NOT NULL,
			claim_code TEXT NOT NULL DEFAULT '',
			disclaim_code TEXT NOT NULL DEFAULT '',
			duty_rate REAL,
			effective_start TEXT NOT NULL,
			effective_end TEXT,
			document_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			evidence_quote TEXT NOT NULL,
			evidence_quote_hash TEXT NOT NULL,
			reader_output TEXT NOT NULL DEFAULT '',
			validator_output TEXT NOT NULL DEFAULT '',
			verified_at TEXT NOT NULL,
			verified_by TEXT NOT NULL DEFAULT '',
			UNIQUE (program_id, hts_code_norm, material, assertion_type, effective_start)
		)`)
	if err != nil {
		return fmt.Errorf("verify: migrate assertions: %w", err)
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// insertTx writes the assertion and closes any overlapping prior current
// row for the same key, inside the caller's transaction. The Write Gate
// calls this so the gate decision and the closure commit together.
func (s *AssertionStore) insertTx(ctx context.Context, tx *sql.Tx, a *VerifiedAssertion) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.VerifiedAt.IsZero() {
		a.VerifiedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE verified_assertions SET effective_end = ?
		WHERE program_id = ? AND hts_code_norm = ? AND material = ? AND assertion_type = ?
		  AND effective_end IS NULL AND effective_start < ?`),
		fmtTime(a.EffectiveStart), a.ProgramID, a.HTSCodeNorm, a.Material,
		string(a.Type), fmtTime(a.EffectiveStart))
	if err != nil {
		return fmt.Errorf("verify: close prior assertion: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO verified_assertions (
			id, program_id, hts_code_norm, hts_digits, material, assertion_type,
			claim_code, disclaim_code, duty_rate, effective_start, effective_end,
			document_id, chunk_id, evidence_quote, evidence_quote_hash,
			reader_output, validator_output, verified_at, verified_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.ProgramID, a.HTSCodeNorm, a.HTSDigits, a.Material, string(a.Type),
		a.ClaimCode, a.DisclaimCode, a.DutyRate, fmtTime(a.EffectiveStart),
		fmtTimePtr(a.EffectiveEnd), a.DocumentID, a.ChunkID, a.EvidenceQuote,
		a.EvidenceQuoteHash, a.ReaderOutput, a.ValidatorOutput,
		fmtTime(a.VerifiedAt), a.VerifiedBy)
	if err != nil {
		return fmt.Errorf("verify: insert assertion: %w", err)
	}
	return nil
}

// Insert writes an assertion in its own transaction.
func (s *AssertionStore) Insert(ctx context.Context, a *VerifiedAssertion) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return s.insertTx(ctx, tx, a)
	})
}

const assertionColumns = `id, program_id, hts_code_norm, hts_digits, material, assertion_type,
	claim_code, disclaim_code, duty_rate, effective_start, effective_end,
	document_id, chunk_id, evidence_quote, evidence_quote_hash,
	reader_output, validator_output, verified_at, verified_by`

func scanAssertion(row interface{ Scan(...any) error }) (*VerifiedAssertion, error) {
	var a VerifiedAssertion
	var atype, start, verifiedAt string
	var end sql.NullString
	var rate sql.NullFloat64
	err := row.Scan(&a.ID, &a.ProgramID, &a.HTSCodeNorm, &a.HTSDigits, &a.Material,
		&atype, &a.ClaimCode, &a.DisclaimCode, &rate, &start, &end,
		&a.DocumentID, &a.ChunkID, &a.EvidenceQuote, &a.EvidenceQuoteHash,
		&a.ReaderOutput, &a.ValidatorOutput, &verifiedAt, &a.VerifiedBy)
	if err != nil {
		return nil, err
	}
	a.Type = AssertionType(atype)
	if rate.Valid {
		v := rate.Float64
		a.DutyRate = &v
	}
	if t, err := time.Parse(time.RFC3339, start); err == nil {
		a.EffectiveStart = t
	}
	a.EffectiveEnd = parseTimePtr(end)
	if t, err := time.Parse(time.RFC3339, verifiedAt); err == nil {
		a.VerifiedAt = t
	}
	return &a, nil
}

// Lookup is the point-in-time cache read: the current row for the key as
// of the given date, or nil on a miss.
func (s *AssertionStore) Lookup(ctx context.Context, program, htsNorm, material string, asOf time.Time) (*VerifiedAssertion, error) {
	d := fmtTime(asOf)
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT `+assertionColumns+` FROM verified_assertions
		WHERE program_id = ? AND hts_code_norm = ? AND material = ?
		  AND effective_start <= ?
		  AND (effective_end IS NULL OR effective_end > ?)
		ORDER BY effective_start DESC LIMIT 1`),
		program, htsNorm, material, d, d)
	a, err := scanAssertion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify: lookup assertion: %w", err)
	}
	return a, nil
}

// Count returns the number of assertion rows, for the stats CLI.
func (s *AssertionStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM verified_assertions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("verify: count assertions: %w", err)
	}
	return n, nil
}
