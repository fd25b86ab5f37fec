package zoom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/curtbushko/zoom-mirror/internal/logging"
)

// DateFormat is the format of the from/to query parameters
const DateFormat = "2006-01-02"

// API defines the single-page listing operations used by the enumerators
type API interface {
	ListUsers(ctx context.Context, params ListUsersParams) (*ListUsersResponse, error)
	ListUserRecordings(ctx context.Context, userID string, params ListRecordingsParams) (*ListRecordingsResponse, error)
}

// ListUsersParams holds parameters for listing account members
type ListUsersParams struct {
	PageSize      int
	NextPageToken string
	Status        string // active, inactive or pending; empty means the provider default
}

// ListRecordingsParams holds parameters for listing recordings
type ListRecordingsParams struct {
	From          time.Time // Start date for the date range
	To            time.Time // End date for the date range
	PageSize      int       // Number of records per page (max: 300)
	NextPageToken string    // Next page token for pagination
}

// Client implements API against the Zoom REST endpoints
type Client struct {
	httpClient *http.Client
	auth       Authenticator
	baseURL    string
	logger     logging.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client used for API calls
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger used for request/response debug logging
func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Zoom API client
func NewClient(baseURL string, auth Authenticator, opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		auth:       auth,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ListUsers retrieves one page of account members
func (c *Client) ListUsers(ctx context.Context, params ListUsersParams) (*ListUsersResponse, error) {
	query := url.Values{}
	if params.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(params.PageSize))
	}
	if params.NextPageToken != "" {
		query.Set("next_page_token", params.NextPageToken)
	}
	if params.Status != "" {
		query.Set("status", params.Status)
	}

	var result ListUsersResponse
	if err := c.getJSON(ctx, "/users", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListUserRecordings retrieves one page of cloud recordings for a user
func (c *Client) ListUserRecordings(ctx context.Context, userID string, params ListRecordingsParams) (*ListRecordingsResponse, error) {
	query := url.Values{}
	if !params.From.IsZero() {
		query.Set("from", params.From.UTC().Format(DateFormat))
	}
	if !params.To.IsZero() {
		query.Set("to", params.To.UTC().Format(DateFormat))
	}
	if params.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(params.PageSize))
	}
	if params.NextPageToken != "" {
		query.Set("next_page_token", params.NextPageToken)
	}

	var result ListRecordingsResponse
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/recordings", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// getJSON performs an authenticated GET and decodes a 2xx body into out.
// Non-2xx responses become *APIError.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	token, err := c.auth.GetAccessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", token.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")

	requestID, _ := logging.GetRequestID(ctx)
	c.logger.LogAPIRequest(logging.APIRequest{Method: http.MethodGet, URL: endpoint, RequestID: requestID})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		_ = json.Unmarshal(body, apiErr)
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.auth.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		c.logger.LogAPIResponse(logging.APIResponse{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RequestID:  requestID,
			Duration:   time.Since(start),
			Error:      apiErr.Error(),
		})
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	c.logger.LogAPIResponse(logging.APIResponse{
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
		Duration:   time.Since(start),
		Success:    true,
	})
	return nil
}
