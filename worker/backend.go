package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/worker-supervisor/worker/internal/backoff"
)

// BackendResponse is a successful backend reply. Body is relayed to the caller verbatim.
type BackendResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// HTTPForwarder sends admitted requests to the backend over HTTP.
type HTTPForwarder struct {
	baseURL     string
	httpClient  *http.Client
	retry       backoff.Config
	retryBudget time.Duration
}

// ForwarderOption configures an HTTPForwarder
type ForwarderOption func(*HTTPForwarder)

// WithConnectRetryBudget bounds how long refused connections are retried. Zero disables retries.
func WithConnectRetryBudget(d time.Duration) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.retryBudget = d
	}
}

// maxErrorBody bounds how much of a failed backend reply is quoted in the error message.
const maxErrorBody = 512

// NewHTTPForwarder creates a forwarder for the backend at baseURL. The request deadline comes
// from the context passed to Forward, not from the client.
func NewHTTPForwarder(baseURL string, client *http.Client, opts ...ForwarderOption) *HTTPForwarder {
	if client == nil {
		client = &http.Client{}
	}
	f := &HTTPForwarder{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  client,
		retry:       backoff.Config{InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second},
		retryBudget: defaultConnectRetry,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward POSTs payload to the backend path equal to route. A refused connection means the
// request never reached the backend, so it is retried within the connect retry budget. The
// route stays held meanwhile, so that budget is kept well below the request timeout.
func (f *HTTPForwarder) Forward(ctx context.Context, route string, payload []byte) (*BackendResponse, error) {
	url := f.baseURL + route
	retryCtx, cancel := context.WithTimeout(ctx, f.retryBudget)
	defer cancel()
	for attempt := 1; ; attempt++ {
		resp, err := f.send(ctx, url, payload)
		if err == nil {
			return resp, nil
		}
		if !isConnRefused(err) {
			return nil, f.translate(ctx, route, err)
		}
		logrus.WithFields(logrus.Fields{"route": route, "attempt": attempt}).Debug("backend refused connection, retrying")
		if f.retry.Sleep(retryCtx, attempt) != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, fmt.Errorf("forwarding to %s: %w", route, ctx.Err())
			}
			return nil, newError(BackendUnreachable, "backend at %s refused connections for %d attempts", f.baseURL, attempt)
		}
	}
}

func (f *HTTPForwarder) send(ctx context.Context, url string, payload []byte) (*BackendResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: body}
	}
	return &BackendResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// statusError is a non-success reply from a reachable backend.
type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	body := e.body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Sprintf("HTTP %d: %s", e.code, strings.TrimSpace(string(body)))
}

// translate maps a transport or status failure to a caller-facing condition.
func (f *HTTPForwarder) translate(ctx context.Context, route string, err error) error {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return newError(BackendError, "backend rejected %s: %s", route, se.Error())
	case errors.Is(ctx.Err(), context.DeadlineExceeded), isTimeout(err):
		return newError(BackendTimeout, "backend did not answer %s within the request timeout", route)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("forwarding to %s: %w", route, ctx.Err())
	default:
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return newError(BackendUnreachable, "backend at %s unreachable: %v", f.baseURL, opErr.Err)
		}
		return newError(BackendError, "forwarding to %s: %v", route, err)
	}
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
