// Package docstore persists tier-classified source documents and their
// position-tracked chunks. Raw bytes live in blob storage; the store keeps
// the extracted text, the content hash and the fetch audit trail.
//
// Documents are unique on (source, canonical_id). Re-ingesting the same
// canonical document never inserts a second row: an unchanged content hash
// only appends to the fetch log, a changed hash bumps the version and
// invalidates the chunks.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearlane/tariffcore/pkg/sqldb"
)

// Tier classifies how trusted a document's source is. Only Tier A
// documents may serve as evidence for a verified assertion.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// FetchLog is one audit entry for a connector fetch.
type FetchLog struct {
	RetrievedAt    time.Time `json:"retrieved_at"`
	StatusCode     int       `json:"status_code"`
	ContentType    string    `json:"content_type"`
	ContentLength  int64     `json:"content_length"`
	ResponseTimeMS int64     `json:"response_time_ms"`
}

// Document is a stored primary source document.
type Document struct {
	ID               string
	Source           string // CSMS, FEDERAL_REGISTER, USITC, ...
	Tier             Tier
	ConnectorName    string
	CanonicalID      string
	URL              string
	Title            string
	PublishedAt      *time.Time
	EffectiveStart   *time.Time
	SHA256Raw        string
	StorageURI       string
	ExtractedText    string
	HTSCodes         []string
	Programs         []string
	FetchLogs        []FetchLog
	ExtractionFailed bool
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Chunk is a verbatim, position-tracked span of a document's text.
type Chunk struct {
	ID          string
	DocumentID  string
	ChunkIndex  int
	CharStart   int
	CharEnd     int
	Text        string
	TextHash    string
	EmbeddingID string
}

// Store persists documents and chunks.
type Store struct {
	db     *sqldb.DB
	logger *slog.Logger
}

// NewStore opens the store and ensures the schema exists.
func NewStore(db *sqldb.DB) (*Store, error) {
	s := &Store{db: db, logger: slog.Default().With("component", "docstore")}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			tier TEXT NOT NULL,
			connector_name TEXT NOT NULL DEFAULT '',
			canonical_id TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			published_at TEXT,
			effective_start TEXT,
			sha256_raw TEXT NOT NULL,
			storage_uri TEXT NOT NULL DEFAULT '',
			extracted_text TEXT NOT NULL DEFAULT '',
			hts_codes TEXT NOT NULL DEFAULT '[]',
			programs TEXT NOT NULL DEFAULT '[]',
			fetch_log TEXT NOT NULL DEFAULT '[]',
			extraction_failed INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (source, canonical_id)
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			char_start INTEGER NOT NULL,
			char_end INTEGER NOT NULL,
			text TEXT NOT NULL,
			text_hash TEXT NOT NULL,
			embedding_id TEXT,
			UNIQUE (document_id, chunk_index)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("docstore: migrate: %w", err)
		}
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

// UpsertResult reports what an Upsert did.
type UpsertResult struct {
	Document       *Document
	Created        bool
	ContentChanged bool
}

// Upsert inserts the document or, when (source, canonical_id) already
// exists, merges into the existing row: unchanged sha256 appends the
// fetch log entry only; a changed sha256 also replaces content fields,
// bumps the version and deletes the stale chunks.
func (s *Store) Upsert(ctx context.Context, d *Document) (*UpsertResult, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	existing, err := s.GetByCanonical(ctx, d.Source, d.CanonicalID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		d.Version = 1
		d.CreatedAt = now
		d.UpdatedAt = now
		if err := s.insert(ctx, d); err != nil {
			return nil, err
		}
		return &UpsertResult{Document: d, Created: true, ContentChanged: true}, nil
	}

	existing.FetchLogs = append(existing.FetchLogs, d.FetchLogs...)
	changed := existing.SHA256Raw != d.SHA256Raw
	if changed {
		existing.SHA256Raw = d.SHA256Raw
		existing.StorageURI = d.StorageURI
		existing.ExtractedText = d.ExtractedText
		existing.Title = d.Title
		existing.HTSCodes = d.HTSCodes
		existing.Programs = d.Programs
		existing.PublishedAt = d.PublishedAt
		existing.EffectiveStart = d.EffectiveStart
		existing.ExtractionFailed = false
		existing.Version++
	}
	existing.UpdatedAt = now

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if changed {
			if _, err := tx.ExecContext(ctx, s.db.Rebind(
				`DELETE FROM document_chunks WHERE document_id = ?`), existing.ID); err != nil {
				return fmt.Errorf("docstore: drop stale chunks: %w", err)
			}
		}
		return s.update(ctx, tx, existing)
	})
	if err != nil {
		return nil, err
	}
	return &UpsertResult{Document: existing, Created: false, ContentChanged: changed}, nil
}

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	if b == nil {
		return "[]"
	}
	return string(b)
}

func (s *Store) insert(ctx context.Context, d *Document) error {
	failed := 0
	if d.ExtractionFailed {
		failed = 1
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO documents (
			id, source, tier, connector_name, canonical_id, url, title,
			published_at, effective_start, sha256_raw, storage_uri,
			extracted_text, hts_codes, programs, fetch_log,
			extraction_failed, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.Source, string(d.Tier), d.ConnectorName, d.CanonicalID, d.URL, d.Title,
		fmtTimePtr(d.PublishedAt), fmtTimePtr(d.EffectiveStart), d.SHA256Raw, d.StorageURI,
		d.ExtractedText, marshalJSON(d.HTSCodes), marshalJSON(d.Programs),
		marshalJSON(d.FetchLogs), failed, d.Version, fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("docstore: insert document: %w", err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, d *Document) error {
	failed := 0
	if d.ExtractionFailed {
		failed = 1
	}
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE documents SET
			title = ?, published_at = ?, effective_start = ?, sha256_raw = ?,
			storage_uri = ?, extracted_text = ?, hts_codes = ?, programs = ?,
			fetch_log = ?, extraction_failed = ?, version = ?, updated_at = ?
		WHERE id = ?`),
		d.Title, fmtTimePtr(d.PublishedAt), fmtTimePtr(d.EffectiveStart), d.SHA256Raw,
		d.StorageURI, d.ExtractedText, marshalJSON(d.HTSCodes), marshalJSON(d.Programs),
		marshalJSON(d.FetchLogs), failed, d.Version, fmtTime(d.UpdatedAt), d.ID)
	if err != nil {
		return fmt.Errorf("docstore: update document: %w", err)
	}
	return nil
}

const docColumns = `id, source, tier, connector_name, canonical_id, url, title,
	published_at, effective_start, sha256_raw, storage_uri, extracted_text,
	hts_codes, programs, fetch_log, extraction_failed, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var tier, created, updated string
	var published, effective sql.NullString
	var htsJSON, programsJSON, logJSON string
	var failed int
	err := row.Scan(&d.ID, &d.Source, &tier, &d.ConnectorName, &d.CanonicalID,
		&d.URL, &d.Title, &published, &effective, &d.SHA256Raw, &d.StorageURI,
		&d.ExtractedText, &htsJSON, &programsJSON, &logJSON, &failed, &d.Version,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	d.Tier = Tier(tier)
	d.PublishedAt = parseTimePtr(published)
	d.EffectiveStart = parseTimePtr(effective)
	_ = json.Unmarshal([]byte(htsJSON), &d.HTSCodes)
	_ = json.Unmarshal([]byte(programsJSON), &d.Programs)
	_ = json.Unmarshal([]byte(logJSON), &d.FetchLogs)
	d.ExtractionFailed = failed != 0
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		d.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		d.UpdatedAt = t
	}
	return &d, nil
}

// Get returns a document by id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+docColumns+` FROM documents WHERE id = ?`), id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get document: %w", err)
	}
	return d, nil
}

// GetByCanonical returns a document by its (source, canonical_id) key.
func (s *Store) GetByCanonical(ctx context.Context, source, canonicalID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+docColumns+` FROM documents WHERE source = ? AND canonical_id = ?`),
		source, canonicalID)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get by canonical: %w", err)
	}
	return d, nil
}

// MarkExtractionFailed flags a document whose text could not be parsed.
// Other documents continue unaffected.
func (s *Store) MarkExtractionFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE documents SET extraction_failed = 1, updated_at = ? WHERE id = ?`),
		fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("docstore: mark extraction failed: %w", err)
	}
	return nil
}

// ReplaceChunks writes a document's chunk set in a single transaction so
// (document_id, chunk_index) uniqueness cannot be violated by a partial
// replay. Chunk IDs are assigned here.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(
			`DELETE FROM document_chunks WHERE document_id = ?`), documentID); err != nil {
			return fmt.Errorf("docstore: clear chunks: %w", err)
		}
		for i := range chunks {
			c := &chunks[i]
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.DocumentID = documentID
			var embedding any
			if c.EmbeddingID != "" {
				embedding = c.EmbeddingID
			}
			if _, err := tx.ExecContext(ctx, s.db.Rebind(`
				INSERT INTO document_chunks (
					id, document_id, chunk_index, char_start, char_end, text, text_hash, embedding_id
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
				c.ID, c.DocumentID, c.ChunkIndex, c.CharStart, c.CharEnd,
				c.Text, c.TextHash, embedding); err != nil {
				return fmt.Errorf("docstore: insert chunk %d: %w", c.ChunkIndex, err)
			}
		}
		return nil
	})
}

// GetChunk returns a chunk by id, or nil when absent.
func (s *Store) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, document_id, chunk_index, char_start, char_end, text, text_hash, embedding_id
		FROM document_chunks WHERE id = ?`), id)
	var c Chunk
	var embedding sql.NullString
	err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.CharStart, &c.CharEnd,
		&c.Text, &c.TextHash, &embedding)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get chunk: %w", err)
	}
	c.EmbeddingID = embedding.String
	return &c, nil
}

// Chunks returns a document's chunks in index order.
func (s *Store) Chunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, document_id, chunk_index, char_start, char_end, text, text_hash, embedding_id
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`), documentID)
	if err != nil {
		return nil, fmt.Errorf("docstore: list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var embedding sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.CharStart, &c.CharEnd,
			&c.Text, &c.TextHash, &embedding); err != nil {
			return nil, fmt.Errorf("docstore: scan chunk: %w", err)
		}
		c.EmbeddingID = embedding.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: chunk rows: %w", err)
	}
	return out, nil
}

// ChunksMentioning returns chunks from Tier-A documents whose text
// contains the dotted or digits-only form of the HTS code. This is the
// evidence-assembly query for scope verification.
func (s *Store) ChunksMentioning(ctx context.Context, dotted, digits string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT c.id, c.document_id, c.chunk_index, c.char_start, c.char_end, c.text, c.text_hash, c.embedding_id
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.tier = 'A' AND (c.text LIKE ? OR c.text LIKE ?)
		ORDER BY d.updated_at DESC, c.chunk_index
		LIMIT ?`),
		"%"+dotted+"%", "%"+digits+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("docstore: chunks mentioning: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var embedding sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.CharStart, &c.CharEnd,
			&c.Text, &c.TextHash, &embedding); err != nil {
			return nil, fmt.Errorf("docstore: scan chunk: %w", err)
		}
		c.EmbeddingID = embedding.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: mention rows: %w", err)
	}
	return out, nil
}

// ListIDs returns every document id, oldest first. Used by the chunk
// reindexer, which re-reads each document individually.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("docstore: list ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("docstore: scan id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: id rows: %w", err)
	}
	return out, nil
}

// Stats reports corpus counts for the admin CLI.
type Stats struct {
	Documents int
	Chunks    int
	TierA     int
	Failed    int
}

// Stats returns corpus counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		q    string
		dest *int
	}{
		{`SELECT COUNT(1) FROM documents`, &st.Documents},
		{`SELECT COUNT(1) FROM document_chunks`, &st.Chunks},
		{`SELECT COUNT(1) FROM documents WHERE tier = 'A'`, &st.TierA},
		{`SELECT COUNT(1) FROM documents WHERE extraction_failed = 1`, &st.Failed},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.q).Scan(q.dest); err != nil {
			return st, fmt.Errorf("docstore: stats: %w", err)
		}
	}
	return st, nil
}
