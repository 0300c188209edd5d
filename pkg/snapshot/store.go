// Package snapshot holds the immutable fetched-data substrate the
// classification engine queries, plus its on-disk persistence.
package snapshot

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// Category partitions stored resources by API namespace.
type Category string

const (
	CategoryGroups         Category = "groups"
	CategoryParticipations Category = "participations"
	CategoryUsers          Category = "users"
	CategoryAffiliations   Category = "affiliations"
)

// Categories lists all categories in persistence order.
var Categories = []Category{
	CategoryGroups,
	CategoryParticipations,
	CategoryUsers,
	CategoryAffiliations,
}

// Entry is one fetched resource: the merged payload plus fetch metadata. A
// payload may be an error marker recording a failed fetch.
type Entry struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Data      json.RawMessage `json:"data"`
}

// errorMarker is the payload shape recorded for failed fetches.
type errorMarker struct {
	Error *struct {
		StatusCode int    `json:"statusCode,omitempty"`
		URL        string `json:"url,omitempty"`
		Message    string `json:"message,omitempty"`
	} `json:"error"`
}

// ErrorMarker builds the payload recorded in place of data for a failed
// fetch.
func ErrorMarker(statusCode int, rawURL, message string) json.RawMessage {
	m := errorMarker{}
	m.Error = &struct {
		StatusCode int    `json:"statusCode,omitempty"`
		URL        string `json:"url,omitempty"`
		Message    string `json:"message,omitempty"`
	}{
		StatusCode: statusCode,
		URL:        rawURL,
		Message:    message,
	}

	raw, err := json.Marshal(&m)
	if err != nil {
		return json.RawMessage(`{"error":{}}`)
	}
	return raw
}

// IsErrorMarker reports whether a payload records a failed fetch.
func IsErrorMarker(raw json.RawMessage) bool {
	var m errorMarker
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return m.Error != nil
}

// CanonicalURL strips the pagination query parameters so a resource fetched
// across N pages keys as one logical entry, and drops any scheme/host so
// snapshot lookups work with both absolute and relative hrefs.
func CanonicalURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	query := u.Query()
	query.Del("items")
	query.Del("page")
	u.RawQuery = query.Encode()
	u.Scheme = ""
	u.Host = ""
	u.Fragment = ""

	return u.String()
}

// CategoryForURL routes a URL to its resource category by the first matching
// path segment. It reports false for URLs outside the four namespaces.
func CategoryForURL(rawURL string) (Category, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	for _, segment := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		switch Category(segment) {
		case CategoryGroups, CategoryParticipations, CategoryUsers, CategoryAffiliations:
			return Category(segment), true
		}
	}

	return "", false
}

// Store is an immutable mapping from request URL to fetched payload,
// partitioned by resource category. It is populated once, atomically, and
// only read afterwards.
type Store struct {
	categories map[Category]map[string]Entry
}

// NewStore builds a store from per-category entry maps keyed by canonical
// URL. Missing categories read as empty. The maps are copied.
func NewStore(categories map[Category]map[string]Entry) *Store {
	s := &Store{categories: make(map[Category]map[string]Entry, len(Categories))}
	for _, cat := range Categories {
		entries := make(map[string]Entry, len(categories[cat]))
		for u, e := range categories[cat] {
			entries[CanonicalURL(u)] = e
		}
		s.categories[cat] = entries
	}
	return s
}

// Get returns the payload stored for the URL, or nil if the URL is absent,
// outside the known namespaces, or recorded as a fetch error.
func (s *Store) Get(ctx context.Context, rawURL string) json.RawMessage {
	l := ctxzap.Extract(ctx)

	cat, ok := CategoryForURL(rawURL)
	if !ok {
		l.Warn("snapshot: url outside known namespaces", zap.String("url", rawURL))
		return nil
	}

	entry, ok := s.categories[cat][CanonicalURL(rawURL)]
	if !ok {
		l.Debug("snapshot: url not in snapshot",
			zap.String("url", rawURL),
			zap.String("category", string(cat)))
		return nil
	}

	if IsErrorMarker(entry.Data) {
		l.Debug("snapshot: url recorded as fetch error", zap.String("url", rawURL))
		return nil
	}

	return entry.Data
}

// Has reports whether the URL has an entry, error markers included.
func (s *Store) Has(rawURL string) bool {
	cat, ok := CategoryForURL(rawURL)
	if !ok {
		return false
	}
	_, ok = s.categories[cat][CanonicalURL(rawURL)]
	return ok
}

// URLs returns the canonical URLs stored in a category, sorted.
func (s *Store) URLs(cat Category) []string {
	entries := s.categories[cat]
	urls := make([]string, 0, len(entries))
	for u := range entries {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Len returns the total number of entries across all categories.
func (s *Store) Len() int {
	n := 0
	for _, entries := range s.categories {
		n += len(entries)
	}
	return n
}

// Recorder accumulates entries during a fetch run and seals them into an
// immutable Store. It is not safe for concurrent use; the fetch phase is
// sequential by design.
type Recorder struct {
	categories map[Category]map[string]Entry
	now        func() time.Time
}

func NewRecorder() *Recorder {
	r := &Recorder{
		categories: make(map[Category]map[string]Entry, len(Categories)),
		now:        time.Now,
	}
	for _, cat := range Categories {
		r.categories[cat] = make(map[string]Entry)
	}
	return r
}

// Record stores a fetched payload under the URL's canonical form. Payloads
// outside the known namespaces are dropped with a warning.
func (r *Recorder) Record(ctx context.Context, rawURL string, data json.RawMessage) {
	cat, ok := CategoryForURL(rawURL)
	if !ok {
		ctxzap.Extract(ctx).Warn("snapshot: refusing to record url outside known namespaces",
			zap.String("url", rawURL))
		return
	}

	r.categories[cat][CanonicalURL(rawURL)] = Entry{
		FetchedAt: r.now().UTC(),
		Data:      data,
	}
}

// RecordError stores an error marker for a URL whose fetch failed.
func (r *Recorder) RecordError(ctx context.Context, rawURL string, statusCode int, message string) {
	r.Record(ctx, rawURL, ErrorMarker(statusCode, rawURL, message))
}

// Data returns a previously recorded payload. ok reports whether the URL
// was recorded at all; a recorded error marker returns found=true, ok=false.
func (r *Recorder) Data(rawURL string) (data json.RawMessage, found, ok bool) {
	cat, routed := CategoryForURL(rawURL)
	if !routed {
		return nil, false, false
	}
	entry, exists := r.categories[cat][CanonicalURL(rawURL)]
	if !exists {
		return nil, false, false
	}
	if IsErrorMarker(entry.Data) {
		return nil, true, false
	}
	return entry.Data, true, true
}

// Has reports whether the URL was already recorded in this run.
func (r *Recorder) Has(rawURL string) bool {
	cat, ok := CategoryForURL(rawURL)
	if !ok {
		return false
	}
	_, ok = r.categories[cat][CanonicalURL(rawURL)]
	return ok
}

// Store seals the recorded entries into an immutable Store.
func (r *Recorder) Store() *Store {
	return NewStore(r.categories)
}
