// Package connector fetches primary tariff documents from trusted
// government sources. Every connector declares its domain allowlist; a
// URL outside it is refused with UntrustedSourceError before any network
// traffic. Transport failures never raise: they come back inside the
// Result with Success=false so the orchestrator can aggregate and retry.
package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/clearlane/tariffcore/pkg/docstore"
	"github.com/clearlane/tariffcore/pkg/hts"
)

// UntrustedSourceError is the refusal of a URL outside a connector's
// domain allowlist. It is never retried.
type UntrustedSourceError struct {
	URL  string
	Host string
}

func (e *UntrustedSourceError) Error() string {
	return fmt.Sprintf("untrusted source: host %q in url %s", e.Host, e.URL)
}

// Result is the outcome of a fetch. Transport failures set Success=false
// and Error; they are values, not panics.
type Result struct {
	Success        bool
	Error          string
	DocumentID     string
	Source         string
	Tier           docstore.Tier
	ConnectorName  string
	CanonicalID    string
	URL            string
	Title          string
	RawBytes       []byte
	SHA256         string
	ContentType    string
	ExtractedText  string
	HTSCodes       []string
	Programs       []string
	PublishedAt    *time.Time
	EffectiveStart *time.Time
	FetchLog       docstore.FetchLog
}

// Connector is one trusted-source fetcher.
type Connector interface {
	Name() string
	Source() string
	Tier() docstore.Tier
	TrustedDomains() []string
	Fetch(ctx context.Context, rawURL string) (*Result, error)
}

// hooks are the per-source extraction points.
type hooks interface {
	extractCanonicalID(text, rawURL string) string
	extractEffectiveDate(text string) *time.Time
}

// base carries the shared fetch pipeline: trust gate, polite rate limit,
// timeout, audit log, hashing, text extraction and metadata scan.
type base struct {
	name      string
	source    string
	tier      docstore.Tier
	domains   []string
	userAgent string
	limiter   *rate.Limiter
	client    *http.Client
	hooks     hooks
}

func newBase(name, source string, domains []string, timeout time.Duration, h hooks) *base {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &base{
		name:      name,
		source:    source,
		tier:      docstore.TierA,
		domains:   domains,
		userAgent: "tariffcore-" + name + "/1.0",
		// Serialized fetches per source respect polite rate limits.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		client:  &http.Client{Timeout: timeout},
		hooks:   h,
	}
}

func (b *base) Name() string             { return b.name }
func (b *base) Source() string           { return b.source }
func (b *base) Tier() docstore.Tier      { return b.tier }
func (b *base) TrustedDomains() []string { return b.domains }

// trusted reports whether host matches a trusted domain exactly or as a
// subdomain.
func (b *base) trusted(host string) bool {
	host = strings.ToLower(host)
	for _, d := range b.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Fetch runs the full pipeline. The only returned error is the trust
// refusal; everything downstream is reported inside the Result.
func (b *base) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, &UntrustedSourceError{URL: rawURL, Host: ""}
	}
	if !b.trusted(parsed.Hostname()) {
		return nil, &UntrustedSourceError{URL: rawURL, Host: parsed.Hostname()}
	}

	result := &Result{
		DocumentID:    uuid.NewString(),
		Source:        b.source,
		Tier:          b.tier,
		ConnectorName: b.name,
		URL:           rawURL,
	}

	if err := b.limiter.Wait(ctx); err != nil {
		result.Error = err.Error()
		return result, nil
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		result.FetchLog = docstore.FetchLog{
			RetrievedAt:    started,
			ResponseTimeMS: time.Since(started).Milliseconds(),
		}
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.FetchLog = docstore.FetchLog{
		RetrievedAt:    started,
		StatusCode:     resp.StatusCode,
		ContentType:    resp.Header.Get("Content-Type"),
		ContentLength:  int64(len(raw)),
		ResponseTimeMS: time.Since(started).Milliseconds(),
	}
	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result, nil
	}

	sum := sha256.Sum256(raw)
	result.RawBytes = raw
	result.SHA256 = hex.EncodeToString(sum[:])
	result.ContentType = result.FetchLog.ContentType

	text := ExtractText(string(raw))
	result.ExtractedText = text
	result.Title = extractTitle(string(raw), text)
	result.CanonicalID = b.hooks.extractCanonicalID(text, rawURL)
	result.EffectiveStart = b.hooks.extractEffectiveDate(text)
	result.HTSCodes = hts.ScanText(text)
	result.Programs = scanPrograms(text)
	if result.CanonicalID == "" {
		// Fall back to the content hash so (source, canonical_id)
		// uniqueness still holds.
		result.CanonicalID = result.SHA256[:16]
	}
	result.Success = true
	return result, nil
}
