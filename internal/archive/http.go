package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultResponseHeaderTimeout is the default timeout for receiving response headers.
const DefaultResponseHeaderTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0, // Archives can be large; the caller's context bounds the transfer.
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// download streams the body of an HTTP GET. The returned name has the
// query string removed so the codec can be chosen by extension.
func (a *Archive) download(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("downloading %s: unexpected status: %s", u.Redacted(), resp.Status)
	}
	a.logger.Debug("downloading archive",
		zap.String("url", u.Redacted()),
		zap.Int64("bytes", resp.ContentLength),
	)
	return resp.Body, u.Path, nil
}
