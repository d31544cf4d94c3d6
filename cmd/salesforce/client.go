package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrQueryFailed wraps every failure of a query round trip
var ErrQueryFailed = errors.New("query failed")

// APIError is a non-2xx response from the instance
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned %d %s: %s", e.URL, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned %d", e.URL, e.StatusCode)
}

// Options configures a Client
type Options struct {
	APIVersion string
	HTTPClient *http.Client
}

// Client runs queries and fetches blobs for one session
type Client struct {
	session    Session
	httpClient *http.Client
	apiVersion string
}

// NewClient creates a client bound to an established session
func NewClient(session Session, opts Options) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{
		session:    session,
		httpClient: opts.HTTPClient,
		apiVersion: opts.APIVersion,
	}
}

// Session returns a copy of the client's session
func (c *Client) Session() Session {
	return c.session
}

// QueryResult is one page of a query response
type QueryResult struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl"`
	Records        []Record `json:"records"`
}

// Query runs soql and returns the first page of results
func (c *Client) Query(ctx context.Context, soql string) (*QueryResult, error) {
	endpoint := fmt.Sprintf("%s/services/data/v%s/query?q=%s",
		c.session.BaseURL(), c.apiVersion, url.QueryEscape(soql))
	return c.getPage(ctx, endpoint)
}

// QueryAll runs soql and follows nextRecordsUrl until every page is consumed
func (c *Client) QueryAll(ctx context.Context, soql string) ([]Record, error) {
	page, err := c.Query(ctx, soql)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, page.TotalSize)
	records = append(records, page.Records...)

	for !page.Done && page.NextRecordsURL != "" {
		page, err = c.getPage(ctx, c.session.BaseURL()+page.NextRecordsURL)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
	}

	return records, nil
}

func (c *Client) getPage(ctx context.Context, endpoint string) (*QueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.session.SessionID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, newAPIError(resp, endpoint))
	}

	var page QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrQueryFailed, err)
	}
	return &page, nil
}

// BlobURL resolves a relative payload locator against the instance host
func (c *Client) BlobURL(locator string) string {
	if !strings.HasPrefix(locator, "/") {
		locator = "/" + locator
	}
	return c.session.BaseURL() + locator
}

// Get performs an authenticated binary GET. The caller must close the
// body of a successful response; any non-2xx status is returned as *APIError.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+c.session.SessionID)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, newAPIError(resp, rawURL)
	}

	return resp, nil
}

// newAPIError reads the service's JSON error array when present
func newAPIError(resp *http.Response, rawURL string) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, URL: rawURL}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var details []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &details); err == nil && len(details) > 0 {
		apiErr.Code = details[0].ErrorCode
		apiErr.Message = details[0].Message
	}

	return apiErr
}
