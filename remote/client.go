package remote

import (
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// Options configures the HTTP clients in this package
type Options struct {
	HTTPClient *http.Client
	AuthToken  string
	Timeout    time.Duration
}

type baseClient struct {
	httpClient *http.Client
	authToken  string
}

func newBaseClient(opts Options) baseClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return baseClient{
		httpClient: httpClient,
		authToken:  strings.TrimSpace(opts.AuthToken),
	}
}

func (c baseClient) authorize(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// readErrorBody returns a short prefix of the body for error messages
func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(body))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
