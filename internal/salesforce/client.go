package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

// APIError is returned for non-2xx data service responses that are not
// credential failures, and for 2xx responses carrying an embedded error
// field. Services translate it into domain errors.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("data service error: status %d: %s", e.Status, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Client issues authenticated REST calls against the data service under the
// versioned API path prefix. On a 401 it forces one token refresh and retries
// the call exactly once; a second 401 is fatal for that call.
type Client struct {
	tokens     *TokenCache
	apiVersion string
	http       *http.Client
	logger     *slog.Logger
}

// NewClient builds a data service client on top of the shared token cache.
func NewClient(tokens *TokenCache, apiVersion string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		tokens:     tokens,
		apiVersion: apiVersion,
		http:       httpClient,
		logger:     logger,
	}
}

// Get performs a GET under the versioned data API path.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// Patch performs a PATCH with a JSON body under the versioned data API path.
func (c *Client) Patch(ctx context.Context, path string, body any) error {
	_, err := c.do(ctx, http.MethodPatch, path, nil, body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	respBody, status, err := c.send(ctx, method, path, query, body, false)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.logger.InfoContext(ctx, "data service returned 401, forcing token refresh", "path", path)
		respBody, status, err = c.send(ctx, method, path, query, body, true)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, dErrors.New(dErrors.CodeUpstreamAuth, "data service rejected credentials after forced token refresh")
		}
	}
	if status < 200 || status > 299 {
		return nil, &APIError{Status: status, Body: respBody}
	}
	if embedded := embeddedError(respBody); embedded != "" {
		return nil, &APIError{Status: status, Body: respBody}
	}
	return respBody, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, forceRefresh bool) ([]byte, int, error) {
	tok, err := c.tokens.Get(ctx, forceRefresh)
	if err != nil {
		return nil, 0, err
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := tok.InstanceURL + "/services/data/" + c.apiVersion + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, dErrors.Wrap(dErrors.CodeInternal, "encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, dErrors.Wrap(dErrors.CodeInternal, "build data service request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, dErrors.Wrap(dErrors.CodeUpstreamUnavailable, "data service call failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, dErrors.Wrap(dErrors.CodeUpstreamUnavailable, "read data service response", err)
	}
	return respBody, resp.StatusCode, nil
}

// embeddedError detects application errors reported inside an otherwise
// successful JSON body.
func embeddedError(body []byte) string {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Error
}
