package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	userAgent      = "StreamPilot/1.0"
	previewLen     = 400
	maxRetries     = 2
	retryBackoff   = 200 * time.Millisecond
	maxBodyBytes   = 8 << 20
	connectTimeout = 2 * time.Second
)

// Result is the tri-state outcome of one probe. When OK is true Body holds
// the decoded JSON document; otherwise Diagnostic describes the failure with
// enough context (URL, status, body preview) to troubleshoot.
type Result struct {
	OK          bool
	Body        any
	Diagnostic  string
	URL         string
	Status      int
	ContentType string
}

// Error renders the result as the poller's last-error string.
func (r Result) Error() string {
	return fmt.Sprintf("[%s] status=%d ctype=%s -> %s", r.URL, r.Status, r.ContentType, r.Diagnostic)
}

// Client issues JSON GET requests against device APIs. A single Client is
// shared across all device polls so the connection pool bounds socket usage.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a probe client with a pooled transport. Device
// certificates are routinely self-signed, so verification is disabled.
func NewClient(timeout time.Duration, poolSize int) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if poolSize <= 0 {
		poolSize = 50
	}
	transport := &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: connectTimeout,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			// Redirects usually point at a login page, not data; surface
			// them to the caller instead of following.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// BuildURL joins a device base URL and path and appends the API credential
// plus any extra query parameters.
func BuildURL(base, path, token string, extra url.Values) string {
	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	q := url.Values{}
	q.Set("api_key", token)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return u + "?" + q.Encode()
}

// GetJSON performs a GET against rawURL and decodes the response as JSON.
// It never returns an error: network failures, timeouts, redirects, wrong
// content-types and malformed bodies all degrade to an OK=false Result.
// Transient statuses (429/5xx) and connection errors are retried up to
// maxRetries times with a short backoff.
func (c *Client) GetJSON(ctx context.Context, rawURL string) Result {
	var res Result
	for attempt := 0; ; attempt++ {
		var retryable bool
		res, retryable = c.getOnce(ctx, rawURL)
		if res.OK || !retryable || attempt >= maxRetries {
			return res
		}
		select {
		case <-ctx.Done():
			return res
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
		log.Debug().Str("url", rawURL).Int("attempt", attempt+1).Msg("Retrying device request")
	}
}

func (c *Client) getOnce(ctx context.Context, rawURL string) (Result, bool) {
	res := Result{URL: rawURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		res.Diagnostic = fmt.Sprintf("REQUEST_ERROR: %v", err)
		return res, false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		res.Diagnostic = fmt.Sprintf("REQUEST_ERROR: %v", err)
		return res, true
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	res.ContentType = strings.ToLower(resp.Header.Get("Content-Type"))

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		res.Diagnostic = fmt.Sprintf("REDIRECT %d to %s", resp.StatusCode, resp.Header.Get("Location"))
		return res, false
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		res.Diagnostic = fmt.Sprintf("READ_ERROR: %v", err)
		return res, true
	}

	if strings.Contains(res.ContentType, "application/json") && !retryable {
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			res.Diagnostic = fmt.Sprintf("JSON_PARSE_ERROR: %v", err)
			return res, false
		}
		res.OK = true
		res.Body = doc
		return res, false
	}

	// Devices sometimes mislabel JSON as HTML; parse anyway when the body
	// looks like a JSON document.
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if !retryable && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) {
		var doc any
		if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
			res.OK = true
			res.Body = doc
			return res, false
		}
	}

	preview := strings.ReplaceAll(string(body), "\n", " ")
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	res.Diagnostic = fmt.Sprintf("NON_JSON_RESPONSE (ctype=%s) preview=%s", res.ContentType, preview)
	return res, retryable
}
