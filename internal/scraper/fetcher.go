package scraper

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 32 << 20

// FetchOptions configures the HTTP fetcher
type FetchOptions struct {
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	UserAgent  string
}

// Fetcher performs HTTP requests with retries
type Fetcher struct {
	client *http.Client
	opts   FetchOptions
}

// NewFetcher creates a fetcher
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{Timeout: opts.Timeout, Transport: tr},
		opts:   opts,
	}
}

// Get fetches url and returns the body
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return f.do(ctx, http.MethodGet, url, nil, headers)
}

// Post sends body to url and returns the response body
func (f *Fetcher) Post(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	return f.do(ctx, http.MethodPost, url, body, headers)
}

func (f *Fetcher) do(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	var out []byte
	err := Retry(ctx, f.opts.Retries, f.opts.Backoff, f.opts.MaxBackoff, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return errors.Wrap(err, "failed to create request")
		}
		if f.opts.UserAgent != "" {
			req.Header.Set("User-Agent", f.opts.UserAgent)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			log.Debug().Err(err).Str("url", url).Msg("Request failed")
			return errors.Wrapf(err, "%s %s", method, url)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return errors.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode)
		}

		out, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return errors.Wrap(err, "failed to read response body")
		}
		return nil
	})
	return out, err
}

// ReadFallback reads a local payload file used instead of the network
func ReadFallback(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read fallback file %s", path)
	}
	log.Info().Str("path", path).Msg("Using fallback file instead of network")
	return b, nil
}

// Retry runs fn up to attempts times with exponential backoff capped at maxDelay
func Retry(ctx context.Context, attempts int, initial, maxDelay time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}
	d := initial
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
			if d < maxDelay {
				d *= 2
				if d > maxDelay {
					d = maxDelay
				}
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
