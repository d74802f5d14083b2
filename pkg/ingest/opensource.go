package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// Search providers.
const (
	ProviderSerper  = "serper"
	ProviderSerpAPI = "serpapi"
)

const (
	defaultSerperURL  = "https://google.serper.dev/search"
	defaultSerpAPIURL = "https://serpapi.com/search.json"
	userAgent         = "VeriDecideBot/1.0 (+governed)"
	maxPageBytes      = 4 << 20
)

// Report reasons.
const (
	ReasonNotAllowlisted = "Domain not in allowlist"
	ReasonEmptyBody      = "Empty body"
)

var (
	// ErrDisabled is returned when open-source ingestion is switched off.
	ErrDisabled = errors.New("ingest: open-source ingestion is disabled")
	// ErrSearchUnavailable is returned when no usable search provider is configured.
	ErrSearchUnavailable = errors.New("ingest: search provider unavailable")
)

// DefaultAllowlist returns the domains trusted when none are configured.
func DefaultAllowlist() []string {
	return []string{
		"gov", "edu", "who.int", "oecd.org", "un.org", "worldbank.org",
		"wto.org", "weforum.org", "europa.eu", "legislation.gov",
	}
}

// ParseAllowlist reads a comma-separated allowlist. An unset value means
// DefaultAllowlist; a set but blank value means allow every domain.
func ParseAllowlist(raw string, set bool) []string {
	if !set {
		return DefaultAllowlist()
	}
	var out []string
	for _, d := range strings.Split(raw, ",") {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// OpenSourceConfig bounds open-source ingestion.
type OpenSourceConfig struct {
	Enabled    bool
	Allowlist  []string
	MaxResults int
	MaxChars   int
}

// WithOpenSource enables web evidence ingestion through searcher.
func WithOpenSource(cfg OpenSourceConfig, searcher Searcher, fetcher *Fetcher) Option {
	return func(i *Ingester) {
		if cfg.MaxResults <= 0 {
			cfg.MaxResults = 6
		}
		if cfg.MaxChars <= 0 {
			cfg.MaxChars = 8000
		}
		if fetcher == nil {
			fetcher = NewFetcher(nil, cfg.MaxChars)
		}
		i.openSource = cfg
		i.searcher = searcher
		i.fetcher = fetcher
	}
}

// OpenSourceEnabled reports whether IngestOpenSource can run.
func (i *Ingester) OpenSourceEnabled() bool {
	return i.openSource.Enabled && i.searcher != nil
}

// IngestOpenSource searches the web for query and stores every allowlisted
// page as open_source evidence. Per-page failures are recorded in the
// report; only a disabled feature or a failed search is an error.
func (i *Ingester) IngestOpenSource(ctx context.Context, tenantID, actorID, query string, maxResults int) (*contracts.IngestReport, error) {
	if !i.openSource.Enabled {
		return nil, ErrDisabled
	}
	if i.searcher == nil {
		return nil, ErrSearchUnavailable
	}
	if maxResults <= 0 {
		maxResults = i.openSource.MaxResults
	}

	results, err := i.searcher.Search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("ingest: search: %w", err)
	}

	report := &contracts.IngestReport{
		Query:          query,
		Attempted:      len(results),
		SkippedDomains: []contracts.IngestSkip{},
		Errors:         []contracts.IngestFailure{},
	}
	allow := i.openSource.Allowlist

	for _, r := range results {
		host := safeHost(r.Link)
		if !isAllowed(r.Link, allow) {
			report.Skipped++
			report.SkippedDomains = append(report.SkippedDomains, contracts.IngestSkip{URL: r.Link, Host: host, Reason: ReasonNotAllowlisted})
			continue
		}

		text, err := i.fetcher.FetchText(ctx, r.Link)
		if err == nil && text == "" {
			err = errors.New(ReasonEmptyBody)
		}
		if err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, contracts.IngestFailure{URL: r.Link, Reason: err.Error()})
			report.SkippedDomains = append(report.SkippedDomains, contracts.IngestSkip{URL: r.Link, Host: host, Reason: err.Error()})
			continue
		}

		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = "Open Source Evidence"
		}
		res, err := i.storeDocument(ctx, tenantID, actorID, title, text, r.Link, contracts.SourceOpenSource)
		if err != nil {
			report.Errors = append(report.Errors, contracts.IngestFailure{URL: r.Link, Reason: err.Error()})
			continue
		}
		report.Ingested++
		report.DocumentIDs = append(report.DocumentIDs, res.DocumentID)
	}

	i.logger.InfoContext(ctx, "open-source evidence ingested",
		"tenant_id", tenantID, "attempted", report.Attempted, "ingested", report.Ingested, "skipped", report.Skipped)
	return report, nil
}

func isAllowed(link string, allowlist []string) bool {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if len(allowlist) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range allowlist {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func safeHost(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// SearchResult is one organic web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher finds candidate evidence pages.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]SearchResult, error)
}

// NewSearcher builds the client for provider. apiURL may be empty.
func NewSearcher(provider, apiKey, apiURL string, client *http.Client) (Searcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing SERP_API_KEY", ErrSearchUnavailable)
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderSerper:
		if apiURL == "" {
			apiURL = defaultSerperURL
		}
		return &SerperClient{apiKey: apiKey, url: apiURL, http: client}, nil
	case ProviderSerpAPI:
		if apiURL == "" {
			apiURL = defaultSerpAPIURL
		}
		return &SerpAPIClient{apiKey: apiKey, url: apiURL, http: client}, nil
	default:
		return nil, fmt.Errorf("%w: SERP_PROVIDER must be %q or %q", ErrSearchUnavailable, ProviderSerper, ProviderSerpAPI)
	}
}

// SerperClient queries google.serper.dev.
type SerperClient struct {
	apiKey string
	url    string
	http   *http.Client
}

func (c *SerperClient) Search(ctx context.Context, query string, n int) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": n})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	var out struct {
		Organic []SearchResult `json:"organic"`
	}
	if err := doJSON(c.http, req, "Serper", &out); err != nil {
		return nil, err
	}
	return limit(out.Organic, n), nil
}

// SerpAPIClient queries serpapi.com.
type SerpAPIClient struct {
	apiKey string
	url    string
	http   *http.Client
}

func (c *SerpAPIClient) Search(ctx context.Context, query string, n int) ([]SearchResult, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("serpapi url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("api_key", c.apiKey)
	q.Set("num", strconv.Itoa(n))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Organic []SearchResult `json:"organic_results"`
	}
	if err := doJSON(c.http, req, "SerpAPI", &out); err != nil {
		return nil, err
	}
	return limit(out.Organic, n), nil
}

func doJSON(client *http.Client, req *http.Request, name string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s request failed: %d", name, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", name, err)
	}
	return nil
}

func limit(results []SearchResult, n int) []SearchResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}

// Fetcher downloads pages and extracts their text.
type Fetcher struct {
	http     *http.Client
	maxChars int
}

// NewFetcher creates a fetcher. A nil client gets a 20s timeout.
func NewFetcher(client *http.Client, maxChars int) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{http: client, maxChars: maxChars}
}

// FetchText returns the page text, or "" for non-2xx responses and PDFs.
func (f *Fetcher) FetchText(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/pdf") {
		return "", nil
	}
	return ExtractText(io.LimitReader(resp.Body, maxPageBytes), f.maxChars)
}
