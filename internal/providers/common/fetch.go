package common

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
)

const MaxResponseBytes = 4 * 1024 * 1024

var browserUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

func RandomUserAgent() string {
	return browserUserAgents[rand.IntN(len(browserUserAgents))]
}

// SetBrowserHeaders makes a scraping request look like a Korean desktop browser.
func SetBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", RandomUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
}

// ReadBody executes req and returns at most MaxResponseBytes of a 2xx body.
// Other statuses come back as *StatusError.
func ReadBody(client *http.Client, req *http.Request, platform string) ([]byte, http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, resp.Header, &StatusError{StatusCode: resp.StatusCode, Platform: platform}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, resp.Header, fmt.Errorf("%s read body: %w", platform, err)
	}
	return body, resp.Header, nil
}

// FetchPage GETs a scraped page under policy, rebuilding the request with a
// fresh user agent for every attempt.
func FetchPage(ctx context.Context, client *http.Client, policy Policy, pageURL, platform string) ([]byte, error) {
	var body []byte
	err := policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return err
		}
		SetBrowserHeaders(req)
		payload, _, err := ReadBody(client, req, platform)
		if err != nil {
			return err
		}
		body = payload
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
