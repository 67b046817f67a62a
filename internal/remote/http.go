package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"
	pageSize       = 100
)

// HTTPClient is the production Client implementation. It speaks the hosted
// database's JSON API with bearer-token authentication and a pinned API
// version header.
type HTTPClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// HTTPOption customizes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithBaseURL overrides the API endpoint (tests point this at a local server).
func WithBaseURL(u string) HTTPOption {
	return func(c *HTTPClient) { c.baseURL = u }
}

// WithHTTPDoer overrides the underlying http.Client.
func WithHTTPDoer(h *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = h }
}

// NewHTTPClient creates a client authenticated with the given integration
// token.
func NewHTTPClient(token string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wirePage is the API's page representation.
type wirePage struct {
	ID          string      `json:"id"`
	Archived    bool        `json:"archived"`
	CreatedTime time.Time   `json:"created_time"`
	Properties  PropertyMap `json:"properties"`
}

func (w *wirePage) toPage() Page {
	return Page{ID: w.ID, Archived: w.Archived, CreatedTime: w.CreatedTime, Properties: w.Properties}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var wire struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &wire) == nil {
			apiErr.Code = wire.Code
			apiErr.Message = wire.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// CreatePage implements Client.CreatePage.
func (c *HTTPClient) CreatePage(ctx context.Context, databaseID string, props PropertyMap) (*Page, error) {
	body := map[string]any{
		"parent":     map[string]string{"database_id": databaseID},
		"properties": props,
	}
	var wire wirePage
	if err := c.do(ctx, http.MethodPost, "/pages", body, &wire); err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page := wire.toPage()
	return &page, nil
}

// UpdatePage implements Client.UpdatePage.
func (c *HTTPClient) UpdatePage(ctx context.Context, pageID string, props PropertyMap) error {
	body := map[string]any{"properties": props}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+url.PathEscape(pageID), body, nil); err != nil {
		return fmt.Errorf("failed to update page %s: %w", pageID, err)
	}
	return nil
}

// ArchivePage implements Client.ArchivePage.
func (c *HTTPClient) ArchivePage(ctx context.Context, pageID string) error {
	body := map[string]any{"archived": true}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+url.PathEscape(pageID), body, nil); err != nil {
		return fmt.Errorf("failed to archive page %s: %w", pageID, err)
	}
	return nil
}

// UnarchivePage implements Client.UnarchivePage.
func (c *HTTPClient) UnarchivePage(ctx context.Context, pageID string) error {
	body := map[string]any{"archived": false}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+url.PathEscape(pageID), body, nil); err != nil {
		return fmt.Errorf("failed to unarchive page %s: %w", pageID, err)
	}
	return nil
}

// RetrievePage implements Client.RetrievePage.
func (c *HTTPClient) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	var wire wirePage
	if err := c.do(ctx, http.MethodGet, "/pages/"+url.PathEscape(pageID), nil, &wire); err != nil {
		return nil, fmt.Errorf("failed to retrieve page %s: %w", pageID, err)
	}
	page := wire.toPage()
	return &page, nil
}

// QueryPages implements Client.QueryPages.
func (c *HTTPClient) QueryPages(ctx context.Context, databaseID string, filter *Filter, cursor string) (*QueryResult, error) {
	body := map[string]any{"page_size": pageSize}
	if cursor != "" {
		body["start_cursor"] = cursor
	}
	if filter != nil && filter.Property != "" {
		body["filter"] = map[string]any{
			"property":  filter.Property,
			"rich_text": map[string]string{"equals": filter.RichTextEquals},
		}
	}

	var wire struct {
		Results    []wirePage `json:"results"`
		NextCursor string     `json:"next_cursor"`
		HasMore    bool       `json:"has_more"`
	}
	path := "/databases/" + url.PathEscape(databaseID) + "/query"
	if err := c.do(ctx, http.MethodPost, path, body, &wire); err != nil {
		return nil, fmt.Errorf("failed to query database %s: %w", databaseID, err)
	}

	res := &QueryResult{NextCursor: wire.NextCursor, HasMore: wire.HasMore}
	for i := range wire.Results {
		res.Results = append(res.Results, wire.Results[i].toPage())
	}
	return res, nil
}

// RetrieveSchema implements Client.RetrieveSchema.
func (c *HTTPClient) RetrieveSchema(ctx context.Context, databaseID string) (*Schema, error) {
	var wire struct {
		ID         string                    `json:"id"`
		Properties map[string]PropertySchema `json:"properties"`
	}
	if err := c.do(ctx, http.MethodGet, "/databases/"+url.PathEscape(databaseID), nil, &wire); err != nil {
		return nil, fmt.Errorf("failed to retrieve database %s: %w", databaseID, err)
	}
	return &Schema{ID: wire.ID, Properties: wire.Properties}, nil
}
