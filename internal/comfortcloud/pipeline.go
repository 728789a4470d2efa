package comfortcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/idgen"
)

const (
	// authRetryLimit bounds transparent refresh-and-retry after a 401.
	authRetryLimit = 2

	// upstreamRetryLimit bounds backoff retries for 429/5xx responses and
	// transport timeouts.
	upstreamRetryLimit = 4

	defaultBackoffBase = 1000 * time.Millisecond
	defaultBackoffCap  = 15 * time.Second
	defaultHTTPTimeout = 30 * time.Second
)

// Request describes one logical Comfort Cloud call.
type Request struct {
	Method       string
	Path         string
	Query        url.Values
	Body         any
	RequiresAuth bool
}

// RetryConfig tunes the backoff schedule for overloaded-upstream retries.
// Zero values use the defaults: 1s doubling per attempt, capped at 15s.
type RetryConfig struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// tokenSource is the slice of the session manager the pipeline needs.
type tokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, usedToken string) (string, error)
}

// Pipeline executes API calls end to end: it attaches the session token,
// paces every call through the admission gate, and retries per the
// upstream's failure semantics. A 401 triggers one transparent token refresh
// before the retry; 429 and 5xx responses back off exponentially; all other
// failures surface immediately.
type Pipeline struct {
	baseURL    string
	appVersion string
	httpClient *http.Client
	gate       *Gate
	tokens     tokenSource
	logger     *slog.Logger

	backoffBase time.Duration
	backoffCap  time.Duration
}

func newPipeline(baseURL, appVersion string, timeout time.Duration, gate *Gate, retryConf RetryConfig, logger *slog.Logger) *Pipeline {
	if appVersion == "" {
		appVersion = DefaultAppVersion
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if retryConf.BackoffBase <= 0 {
		retryConf.BackoffBase = defaultBackoffBase
	}
	if retryConf.BackoffCap <= 0 {
		retryConf.BackoffCap = defaultBackoffCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		baseURL:     strings.TrimRight(baseURL, "/"),
		appVersion:  appVersion,
		httpClient:  &http.Client{Timeout: timeout},
		gate:        gate,
		logger:      logger.With("component", "pipeline"),
		backoffBase: retryConf.BackoffBase,
		backoffCap:  retryConf.BackoffCap,
	}
}

// Do executes req and returns the raw response body. Terminal failures are
// classified into the package sentinel errors.
func (p *Pipeline) Do(ctx context.Context, req Request) ([]byte, error) {
	body, err := marshalBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request body: %v", ErrRequestFailed, err)
	}
	target := p.buildURL(req)
	callID := idgen.NewRequestID()

	// One counter spans both retry reasons: a call that has already spent
	// attempts on 401 recovery has fewer left for upstream backoff.
	var (
		attempt        int
		pendingRefresh *string
		result         []byte
	)

	err = retry.Do(
		func() error {
			var token string
			if req.RequiresAuth {
				if pendingRefresh != nil {
					if _, err := p.tokens.ForceRefresh(ctx, *pendingRefresh); err != nil {
						return retry.Unrecoverable(refreshFailure(err))
					}
					pendingRefresh = nil
				}
				var err error
				token, err = p.tokens.Token(ctx)
				if err != nil {
					return retry.Unrecoverable(err)
				}
			}

			sendErr := p.send(ctx, req, target, body, token, &result)
			if sendErr == nil {
				return nil
			}

			n := attempt
			attempt++

			if errors.Is(sendErr, ErrQueueFull) || errors.Is(sendErr, ErrRequestFailed) {
				return retry.Unrecoverable(sendErr)
			}

			status := statusOf(sendErr)
			switch {
			case status == http.StatusUnauthorized && req.RequiresAuth:
				if n < authRetryLimit {
					used := token
					pendingRefresh = &used
					return sendErr
				}
				return retry.Unrecoverable(fmt.Errorf("%w: %w", ErrAuthFailed, sendErr))

			case status == http.StatusTooManyRequests || status >= 500:
				if n < upstreamRetryLimit {
					return sendErr
				}
				return retry.Unrecoverable(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, sendErr))

			case status == 0 && isTimeout(sendErr):
				// A transport timeout gets the same backoff treatment as an
				// overloaded upstream.
				if n < upstreamRetryLimit {
					return sendErr
				}
				return retry.Unrecoverable(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, sendErr))

			default:
				// Remaining 4xx responses and non-timeout network failures
				// will not get better by retrying.
				return retry.Unrecoverable(fmt.Errorf("%w: %w", ErrRequestFailed, sendErr))
			}
		},
		retry.Attempts(upstreamRetryLimit+1),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Delay(p.backoffBase),
		retry.MaxDelay(p.backoffCap),
		retry.DelayType(backoffDelay),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("retrying request",
				"call_id", callID,
				"method", req.Method,
				"path", req.Path,
				"status", statusOf(err),
				"attempt", n)
		}),
	)
	if err != nil {
		p.logger.Error("request failed",
			"call_id", callID,
			"method", req.Method,
			"path", req.Path,
			"status", statusOf(err),
			"attempts", attempt,
			"error", err)
		return nil, err
	}
	return result, nil
}

// DoJSON executes req and decodes the response body into out when out is
// non-nil.
func (p *Pipeline) DoJSON(ctx context.Context, req Request, out any) error {
	raw, err := p.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
	}
	return nil
}

// send performs one HTTP exchange under the admission gate. Non-2xx
// responses come back as *APIError with whatever detail the body offered.
func (p *Pipeline) send(ctx context.Context, req Request, target string, body []byte, token string, out *[]byte) error {
	return p.gate.Schedule(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
		if err != nil {
			return fmt.Errorf("%w: build request: %v", ErrRequestFailed, err)
		}
		httpReq.Header.Set("User-Agent", userAgent)
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set(headerAppType, appType)
		httpReq.Header.Set(headerAppVersion, p.appVersion)
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			httpReq.Header.Set(headerAuth, token)
		}

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode, Method: req.Method, Path: req.Path}
			var parsed apiErrorBody
			if json.Unmarshal(raw, &parsed) == nil {
				apiErr.Code = parsed.Code
				apiErr.Message = parsed.Message
			}
			return apiErr
		}

		*out = raw
		return nil
	})
}

func (p *Pipeline) buildURL(req Request) string {
	target := p.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	return target
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

// backoffDelay waits exponentially before retrying an overloaded upstream,
// but not at all before a 401 refresh-and-retry.
func backoffDelay(n uint, err error, config *retry.Config) time.Duration {
	if statusOf(err) == http.StatusUnauthorized {
		return 0
	}
	return retry.BackOffDelay(n, err, config)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// refreshFailure maps a failed forced refresh into the error the caller
// should see. Errors already classified by the session manager pass through.
func refreshFailure(err error) error {
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrAuthRequired) {
		return err
	}
	return fmt.Errorf("%w: token refresh after 401: %w", ErrAuthFailed, err)
}
