package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"gensvc/internal/domain"
)

// DefaultMaxBytes bounds a single materialized download.
const DefaultMaxBytes = 20 << 20

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Timeout      time.Duration
	MaxBytes     int64
	AllowedHosts []string
	HTTPClient   *http.Client
}

// Fetcher downloads remote artifacts.
type Fetcher struct {
	client   *resty.Client
	maxBytes int64
	allowed  map[string]struct{}
}

// NewFetcher constructs a Fetcher. An empty AllowedHosts list permits any
// http(s) host.
func NewFetcher(opts FetcherOptions) *Fetcher {
	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New().SetTimeout(30 * time.Second)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	client.SetRetryCount(0).
		SetHeader("User-Agent", "gensvc-fetcher/1.0")

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	var allowed map[string]struct{}
	if len(opts.AllowedHosts) > 0 {
		allowed = make(map[string]struct{}, len(opts.AllowedHosts))
		for _, h := range opts.AllowedHosts {
			allowed[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
		}
	}
	return &Fetcher{client: client, maxBytes: maxBytes, allowed: allowed}
}

// Fetch downloads rawURL and returns its body and declared content type.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, "", fmt.Errorf("fetch: invalid url")
	}
	if f.allowed != nil {
		if _, ok := f.allowed[strings.ToLower(parsed.Hostname())]; !ok {
			return nil, "", fmt.Errorf("fetch: host %s not allowed", parsed.Hostname())
		}
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(parsed.String())
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", parsed.Host, err)
	}
	raw := resp.RawBody()
	if raw == nil {
		return nil, "", fmt.Errorf("fetch %s: empty body", parsed.Host)
	}
	defer raw.Close()
	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, "", &domain.ProviderError{
			Provider:   parsed.Hostname(),
			Capability: "fetch",
			Status:     resp.StatusCode(),
		}
	}
	if resp.RawResponse != nil && resp.RawResponse.ContentLength > f.maxBytes {
		return nil, "", fmt.Errorf("fetch %s: body exceeds %d bytes", parsed.Host, f.maxBytes)
	}
	// read one byte past the cap so an oversized body is detected without
	// buffering the rest of it
	body, err := io.ReadAll(io.LimitReader(raw, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: read body: %w", parsed.Host, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", fmt.Errorf("fetch %s: body exceeds %d bytes", parsed.Host, f.maxBytes)
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("fetch %s: empty body", parsed.Host)
	}
	return body, resp.Header().Get("Content-Type"), nil
}
