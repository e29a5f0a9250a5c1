package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TimelineKind categorizes audit timeline entries.
type TimelineKind string

const (
	KindIngestion    TimelineKind = "INGESTION"
	KindCalculation  TimelineKind = "CALCULATION"
	KindVerification TimelineKind = "VERIFICATION"
	KindReview       TimelineKind = "REVIEW"
)

// TimelineEntry is a single auditable event. DocumentID groups the
// events of one source document; Ref carries the audit hash for
// calculations and the assertion id for verifications.
type TimelineEntry struct {
	EntryID     string                 `json:"entry_id"`
	Kind        TimelineKind           `json:"kind"`
	DocumentID  string                 `json:"document_id,omitempty"`
	Program     string                 `json:"program,omitempty"`
	Ref         string                 `json:"ref,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Summary     string                 `json:"summary"`
	ContentHash string                 `json:"content_hash"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// TimelineQuery filters timeline entries.
type TimelineQuery struct {
	DocumentID string        `json:"document_id,omitempty"`
	Program    string        `json:"program,omitempty"`
	Kind       *TimelineKind `json:"kind,omitempty"`
	After      *time.Time    `json:"after,omitempty"`
	Before     *time.Time    `json:"before,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

// AuditTimeline collects ingestion, calculation, and verification
// events in memory for the review tooling to query and replay.
type AuditTimeline struct {
	mu      sync.RWMutex
	entries []TimelineEntry
	index   map[string][]int // documentID → entry indices
	seq     int64
	clock   func() time.Time
}

func NewAuditTimeline() *AuditTimeline {
	return &AuditTimeline{
		entries: make([]TimelineEntry, 0),
		index:   make(map[string][]int),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (t *AuditTimeline) WithClock(clock func() time.Time) *AuditTimeline {
	t.clock = clock
	return t
}

// Record adds an entry, assigning id, timestamp, and content hash.
func (t *AuditTimeline) Record(entry TimelineEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("tl-%d", t.seq)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.clock()
	}

	data, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	h := sha256.Sum256(data)
	entry.ContentHash = "sha256:" + hex.EncodeToString(h[:])

	idx := len(t.entries)
	t.entries = append(t.entries, entry)

	if entry.DocumentID != "" {
		t.index[entry.DocumentID] = append(t.index[entry.DocumentID], idx)
	}

	return nil
}

// Query retrieves entries matching the query, ordered by timestamp.
func (t *AuditTimeline) Query(q TimelineQuery) []TimelineEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []TimelineEntry

	if q.DocumentID != "" {
		indices, ok := t.index[q.DocumentID]
		if !ok {
			return nil
		}
		for _, i := range indices {
			candidates = append(candidates, t.entries[i])
		}
	} else {
		candidates = make([]TimelineEntry, len(t.entries))
		copy(candidates, t.entries)
	}

	var results []TimelineEntry
	for _, e := range candidates {
		if q.Program != "" && e.Program != q.Program {
			continue
		}
		if q.Kind != nil && e.Kind != *q.Kind {
			continue
		}
		if q.After != nil && e.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && e.Timestamp.After(*q.Before) {
			continue
		}
		results = append(results, e)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	return results
}

// Count returns total entries.
func (t *AuditTimeline) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
