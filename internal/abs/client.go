// Package abs is a small Audiobookshelf REST client.
//
// Every request resolves its bearer token through a credential.Source, so a
// scoped credential in the request context always wins over the default.
package abs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"shelfbot/internal/credential"
	logx "shelfbot/pkg/logx"
)

var (
	ErrUnauthorized  = errors.New("abs: unauthorized")
	ErrAccountLocked = errors.New("abs: account locked")
	ErrNotFound      = errors.New("abs: not found")
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("abs: %s %s: status %d", e.Method, e.Path, e.Code)
}

type Config struct {
	BaseURL string
	// PublicURL is used for links handed to chat users. Empty means BaseURL.
	PublicURL string
	Timeout   time.Duration
	RetryMax  int
}

type Client struct {
	base   *url.URL
	public string
	http   *retryablehttp.Client
	tokens credential.Source
	log    logx.Logger
}

func New(cfg Config, tokens credential.Source, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if tokens == nil {
		return nil, errors.New("abs: token source is required")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("abs: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = 250 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = leveledLogger{log: log}
	// Hand the final response back so status codes map to typed errors.
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	public := base.String()
	if p := strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/"); strings.Contains(p, "https") {
		public = p
	}

	return &Client{base: base, public: public, http: hc, tokens: tokens, log: log}, nil
}

// BaseURL is the server address used for API calls.
func (c *Client) BaseURL() string { return c.base.String() }

// PublicURL is the address used for deep links.
func (c *Client) PublicURL() string { return c.public }

// ItemURL is the web UI deep link for a library item.
func (c *Client) ItemURL(itemID string) string {
	return c.public + "/item/" + url.PathEscape(itemID)
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	var rb any
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rb = b
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint(path, q), rb)
	if err != nil {
		return err
	}
	if tok := c.tokens.Token(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("abs: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Trace("abs request",
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("abs: decode %s: %w", path, err)
	}
	return nil
}

// leveledLogger adapts logx to retryablehttp.LeveledLogger.
type leveledLogger struct{ log logx.Logger }

func (l leveledLogger) fields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		if k == "url" {
			// Drop query strings; tokens never travel there but filters can be long.
			if s, ok := kv[i+1].(string); ok {
				kv[i+1], _, _ = strings.Cut(s, "?")
			}
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Warn(msg, l.fields(kv)...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn(msg, l.fields(kv)...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug(msg, l.fields(kv)...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace(msg, l.fields(kv)...) }
