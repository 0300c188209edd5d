package w3capi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/conductorone/baton-sdk/pkg/uhttp"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.w3.org"

	// The API quota allows one outstanding request at a time, separated by
	// a mandatory delay.
	DefaultRequestDelay = time.Second
	DefaultItemsPerPage = 500
	DefaultMaxRetries   = 3

	backoffBase = 500 * time.Millisecond
)

// knownCollections lists the array-valued link relations the API serves, in
// lookup priority order, so page merging picks the same key on every page.
var knownCollections = []string{
	"groups",
	"participations",
	"participants",
	"users",
	"affiliations",
	"chairs",
	"team-contacts",
	"services",
}

// RequestError is returned once a request has exhausted its retries.
type RequestError struct {
	StatusCode int    `json:"statusCode,omitempty"`
	URL        string `json:"url"`
	Message    string `json:"message"`
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("w3capi: %s: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("w3capi: %s: %s", e.URL, e.Message)
}

// apiErrorBody decodes the API's error payload for uhttp.
type apiErrorBody struct {
	Msg    string `json:"message"`
	Detail string `json:"detail"`
}

func (e *apiErrorBody) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Detail
}

// ClientConfig configures the API client.
type ClientConfig struct {
	BaseURL      string
	ItemsPerPage uint
	MaxRetries   int
	RequestDelay time.Duration
}

type Client struct {
	httpClient   *uhttp.BaseHttpClient
	baseURL      *url.URL
	limiter      *rate.Limiter
	itemsPerPage uint
	maxRetries   int
}

func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ItemsPerPage == 0 {
		cfg.ItemsPerPage = DefaultItemsPerPage
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RequestDelay == 0 {
		cfg.RequestDelay = DefaultRequestDelay
	}

	l := ctxzap.Extract(ctx)
	httpClient, err := uhttp.NewClient(ctx, uhttp.WithLogger(true, l))
	if err != nil {
		return nil, err
	}
	wrapper := uhttp.NewBaseHttpClient(httpClient)

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("w3capi: invalid base url %q: %w", cfg.BaseURL, err)
	}

	return &Client{
		httpClient:   wrapper,
		baseURL:      base,
		limiter:      rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		itemsPerPage: cfg.ItemsPerPage,
		maxRetries:   cfg.MaxRetries,
	}, nil
}

// BaseURL returns the resolved API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// resolve parses rawURL relative to the client base and applies query vars
// on top of any query already present.
func (c *Client) resolve(rawURL string, vars []Vars) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("w3capi: invalid url %q: %w", rawURL, err)
	}
	u = c.baseURL.ResolveReference(u)

	if len(vars) > 0 {
		query := u.Query()
		for _, v := range vars {
			v.Apply(&query)
		}
		u.RawQuery = query.Encode()
	}

	return u, nil
}

// Fetch retrieves a single resource without pagination handling. Retries and
// request pacing apply as for paginated fetches.
func (c *Client) Fetch(ctx context.Context, rawURL string) (json.RawMessage, error) {
	u, err := c.resolve(rawURL, nil)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}

// FetchPaginated retrieves a collection resource, following _links.next until
// absent and merging every page's array-valued collection into one logical
// page. The first page's envelope is kept; the first up link seen on any page
// is preserved. Resources without a pagination envelope pass through as-is.
func (c *Client) FetchPaginated(ctx context.Context, rawURL string) (json.RawMessage, error) {
	l := ctxzap.Extract(ctx)

	u, err := c.resolve(rawURL, []Vars{NewPaginationVars(c.itemsPerPage, 0)})
	if err != nil {
		return nil, err
	}

	var first json.RawMessage
	if err := c.getJSON(ctx, u, &first); err != nil {
		return nil, err
	}

	var env Page
	if err := json.Unmarshal(first, &env); err != nil || env.Links == nil {
		// Detail record, not a collection envelope.
		return first, nil
	}

	next, hasNext := env.Links.Rel("next")
	if !hasNext {
		return first, nil
	}

	key, ok := env.Links.CollectionKey(knownCollections...)
	if !ok {
		l.Warn("w3capi: paginated response without a mergeable collection",
			zap.String("url", u.String()))
		return first, nil
	}

	items, err := decodeItemArray(env.Links[key])
	if err != nil {
		return nil, fmt.Errorf("w3capi: malformed collection %q at %s: %w", key, u.String(), err)
	}

	merged := make(Links, len(env.Links))
	for rel, raw := range env.Links {
		merged[rel] = raw
	}
	_, haveUp := env.Links.Rel("up")

	for hasNext {
		pageURL, err := c.resolve(next.Href, nil)
		if err != nil {
			return nil, err
		}

		var raw json.RawMessage
		if err := c.getJSON(ctx, pageURL, &raw); err != nil {
			return nil, err
		}

		var pageEnv Page
		if err := json.Unmarshal(raw, &pageEnv); err != nil {
			return nil, fmt.Errorf("w3capi: malformed page at %s: %w", pageURL.String(), err)
		}

		pageItems, err := decodeItemArray(pageEnv.Links[key])
		if err != nil {
			return nil, fmt.Errorf("w3capi: malformed collection %q at %s: %w", key, pageURL.String(), err)
		}
		items = append(items, pageItems...)

		if !haveUp {
			if up, ok := pageEnv.Links["up"]; ok {
				merged["up"] = up
				haveUp = true
			}
		}

		next, hasNext = pageEnv.Links.Rel("next")
	}

	mergedItems, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	merged[key] = mergedItems
	delete(merged, "next")
	delete(merged, "prev")

	out := Page{
		Page:  env.Page,
		Limit: env.Limit,
		Pages: env.Pages,
		Total: env.Total,
		Links: merged,
	}

	return json.Marshal(&out)
}

// getJSON performs a paced GET with bounded retries and exponential backoff
// on 429, 5xx and network failures.
func (c *Client) getJSON(ctx context.Context, u *url.URL, response any) error {
	l := ctxzap.Extract(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * backoffBase
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, err := c.doOnce(ctx, u, response)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryableStatus(status) {
			return err
		}

		l.Debug("w3capi: retrying request",
			zap.String("url", u.String()),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1))
	}

	return lastErr
}

func (c *Client) doOnce(ctx context.Context, u *url.URL, response any) (int, error) {
	req, err := c.httpClient.NewRequest(ctx, http.MethodGet, u, uhttp.WithAcceptJSONHeader())
	if err != nil {
		return 0, &RequestError{URL: u.String(), Message: err.Error()}
	}

	errResp := &apiErrorBody{}
	doOpts := []uhttp.DoOption{
		uhttp.WithErrorResponse(errResp),
	}
	if response != nil {
		doOpts = append(doOpts, uhttp.WithJSONResponse(response))
	}

	resp, err := c.httpClient.Do(req, doOpts...)
	var status int
	if resp != nil {
		status = resp.StatusCode
		defer resp.Body.Close()
	}
	if err != nil {
		msg := errResp.Message()
		if msg == "" {
			msg = err.Error()
		}
		return status, &RequestError{StatusCode: status, URL: u.String(), Message: msg}
	}

	return status, nil
}

func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func decodeItemArray(raw json.RawMessage) ([]json.RawMessage, error) {
	if raw == nil {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	return items, nil
}

// ParsePage decodes a fetched payload as a pagination envelope.
func ParsePage(raw json.RawMessage) (*Page, error) {
	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
