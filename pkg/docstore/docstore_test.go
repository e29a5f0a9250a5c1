package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/clearlane/tariffcore/pkg/sqldb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqldb.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func sampleDoc(hash string) *Document {
	return &Document{
		Source:        "FEDERAL_REGISTER",
		Tier:          TierA,
		ConnectorName: "federal_register",
		CanonicalID:   "2025-12345",
		URL:           "https://www.federalregister.gov/documents/2025-12345",
		Title:         "Notice of Modification of Section 301 Action",
		SHA256Raw:     hash,
		StorageURI:    "local://federal_register/2025-12345/" + hash[:16] + ".html",
		ExtractedText: "Products classified under 8544.42.9090 remain subject to the additional duty.",
		HTSCodes:      []string{"8544.42.9090"},
		Programs:      []string{"section_301_note20"},
		FetchLogs: []FetchLog{{
			RetrievedAt: time.Now().UTC(), StatusCode: 200,
			ContentType: "text/html", ContentLength: 2048, ResponseTimeMS: 120,
		}},
	}
}

func TestUpsertCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.Upsert(ctx, sampleDoc("aaaa000000000000aaaa"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !res.Created || !res.ContentChanged {
		t.Errorf("first upsert = created %v, changed %v", res.Created, res.ContentChanged)
	}
	if res.Document.ID == "" || res.Document.Version != 1 {
		t.Errorf("created doc = id %q, version %d", res.Document.ID, res.Document.Version)
	}

	got, err := store.Get(ctx, res.Document.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if got.Tier != TierA || got.CanonicalID != "2025-12345" {
		t.Errorf("round-trip = %+v", got)
	}
	if len(got.FetchLogs) != 1 || got.FetchLogs[0].StatusCode != 200 {
		t.Errorf("fetch logs = %+v", got.FetchLogs)
	}
}

func TestUpsertUnchangedAppendsFetchLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Upsert(ctx, sampleDoc("samehash000000000000"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.ReplaceChunks(ctx, first.Document.ID, []Chunk{
		{ChunkIndex: 0, CharStart: 0, CharEnd: 10, Text: "Products c", TextHash: "h0"},
	}); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}

	res, err := store.Upsert(ctx, sampleDoc("samehash000000000000"))
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if res.Created || res.ContentChanged {
		t.Errorf("unchanged re-upsert = created %v, changed %v", res.Created, res.ContentChanged)
	}
	if res.Document.ID != first.Document.ID {
		t.Errorf("re-upsert created a second row")
	}
	if res.Document.Version != 1 {
		t.Errorf("version bumped on unchanged content: %d", res.Document.Version)
	}
	if len(res.Document.FetchLogs) != 2 {
		t.Errorf("fetch logs = %d entries, want 2", len(res.Document.FetchLogs))
	}

	// Chunks survive an unchanged re-fetch.
	chunks, err := store.Chunks(ctx, first.Document.ID)
	if err != nil || len(chunks) != 1 {
		t.Errorf("chunks after unchanged upsert = %d, %v; want 1", len(chunks), err)
	}
}

func TestUpsertChangedBumpsVersionAndDropsChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Upsert(ctx, sampleDoc("hash-v1-000000000000"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.ReplaceChunks(ctx, first.Document.ID, []Chunk{
		{ChunkIndex: 0, CharStart: 0, CharEnd: 10, Text: "Products c", TextHash: "h0"},
		{ChunkIndex: 1, CharStart: 10, CharEnd: 20, Text: "lassified ", TextHash: "h1"},
	}); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}

	revised := sampleDoc("hash-v2-000000000000")
	revised.Title = "Corrected Notice"
	res, err := store.Upsert(ctx, revised)
	if err != nil {
		t.Fatalf("changed upsert: %v", err)
	}
	if res.Created || !res.ContentChanged {
		t.Errorf("changed upsert = created %v, changed %v", res.Created, res.ContentChanged)
	}
	if res.Document.Version != 2 {
		t.Errorf("version = %d, want 2", res.Document.Version)
	}
	if res.Document.Title != "Corrected Notice" {
		t.Errorf("title = %q", res.Document.Title)
	}

	chunks, err := store.Chunks(ctx, first.Document.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("stale chunks survived a content change: %d", len(chunks))
	}
}

func TestReplaceChunksAndGetChunk(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.Upsert(ctx, sampleDoc("chunkdoc000000000000"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	docID := res.Document.ID

	set := []Chunk{
		{ChunkIndex: 1, CharStart: 40, CharEnd: 80, Text: "second span", TextHash: "hb"},
		{ChunkIndex: 0, CharStart: 0, CharEnd: 40, Text: "first span", TextHash: "ha"},
	}
	if err := store.ReplaceChunks(ctx, docID, set); err != nil {
		t.Fatalf("replace: %v", err)
	}

	chunks, err := store.Chunks(ctx, docID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chunks) != 2 || chunks[0].ChunkIndex != 0 || chunks[1].ChunkIndex != 1 {
		t.Fatalf("chunks out of order: %+v", chunks)
	}

	got, err := store.GetChunk(ctx, chunks[0].ID)
	if err != nil || got == nil {
		t.Fatalf("get chunk: %v, %v", got, err)
	}
	if got.Text != "first span" || got.DocumentID != docID {
		t.Errorf("chunk = %+v", got)
	}

	// Replacement is wholesale.
	if err := store.ReplaceChunks(ctx, docID, []Chunk{
		{ChunkIndex: 0, CharStart: 0, CharEnd: 5, Text: "only", TextHash: "hc"},
	}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	chunks, err = store.Chunks(ctx, docID)
	if err != nil || len(chunks) != 1 || chunks[0].Text != "only" {
		t.Errorf("after second replace = %+v, %v", chunks, err)
	}
}

func TestChunksMentioningTierAOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tierA := sampleDoc("tiera000000000000000")
	resA, err := store.Upsert(ctx, tierA)
	if err != nil {
		t.Fatalf("upsert A: %v", err)
	}
	if err := store.ReplaceChunks(ctx, resA.Document.ID, []Chunk{
		{ChunkIndex: 0, CharStart: 0, CharEnd: 60,
			Text: "Articles under 8544.42.9090 are covered by heading 9903.88.03.", TextHash: "h1"},
	}); err != nil {
		t.Fatalf("chunks A: %v", err)
	}

	tierB := sampleDoc("tierb000000000000000")
	tierB.Tier = TierB
	tierB.CanonicalID = "blog-post-1"
	resB, err := store.Upsert(ctx, tierB)
	if err != nil {
		t.Fatalf("upsert B: %v", err)
	}
	if err := store.ReplaceChunks(ctx, resB.Document.ID, []Chunk{
		{ChunkIndex: 0, CharStart: 0, CharEnd: 40,
			Text: "A commentary mentioning 8544.42.9090 too.", TextHash: "h2"},
	}); err != nil {
		t.Fatalf("chunks B: %v", err)
	}

	got, err := store.ChunksMentioning(ctx, "8544.42.9090", "8544429090", 10)
	if err != nil {
		t.Fatalf("mentioning: %v", err)
	}
	if len(got) != 1 || got[0].DocumentID != resA.Document.ID {
		t.Errorf("evidence query returned non-Tier-A chunks: %+v", got)
	}

	got, err = store.ChunksMentioning(ctx, "0101.21.0010", "0101210010", 10)
	if err != nil || len(got) != 0 {
		t.Errorf("unmentioned code = %+v, %v; want empty", got, err)
	}
}

func TestMarkExtractionFailedAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.Upsert(ctx, sampleDoc("failed00000000000000"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.MarkExtractionFailed(ctx, res.Document.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := store.Get(ctx, res.Document.ID)
	if err != nil || got == nil || !got.ExtractionFailed {
		t.Errorf("extraction flag not persisted: %+v, %v", got, err)
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Documents != 1 || st.TierA != 1 || st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}

	ids, err := store.ListIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != res.Document.ID {
		t.Errorf("ListIDs = %v, %v", ids, err)
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if d, err := store.Get(ctx, "no-such-id"); err != nil || d != nil {
		t.Errorf("Get missing = %v, %v; want nil, nil", d, err)
	}
	if d, err := store.GetByCanonical(ctx, "CSMS", "no-such"); err != nil || d != nil {
		t.Errorf("GetByCanonical missing = %v, %v; want nil, nil", d, err)
	}
	if c, err := store.GetChunk(ctx, "no-such-chunk"); err != nil || c != nil {
		t.Errorf("GetChunk missing = %v, %v; want nil, nil", c, err)
	}
}
