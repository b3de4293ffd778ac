package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jeremy-jemverse/flownodes/internal/schema"
)

// ErrorClass tags webhook transport failures for retry classification.
const ErrorClass = "WEBHOOK_ERROR"

// Error is a webhook call that failed at the transport level, before any
// HTTP status was received.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("webhook %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Class implements the error classification used by retry policies.
func (e *Error) Class() string { return ErrorClass }

// RetryParams retries the request on specific response status codes. Delay is
// in milliseconds.
type RetryParams struct {
	Attempts    int   `json:"attempts"`
	Delay       int   `json:"delay"`
	StatusCodes []int `json:"statusCodes"`
}

// CacheParams caches successful GET responses. TTL is in seconds.
type CacheParams struct {
	TTL int `json:"ttl"`
}

// Params is the node configuration for one webhook call. Timeout is in
// milliseconds.
type Params struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
	Body        any               `json:"body,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
	Retry       *RetryParams      `json:"retry,omitempty"`
	Cache       *CacheParams      `json:"cache,omitempty"`
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Validate checks the parameter combination before any network work happens.
func (p *Params) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("url is required")
	}
	if p.Method == "" {
		return fmt.Errorf("http method is required")
	}
	parsed, err := url.Parse(p.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid url format: %s", p.URL)
	}
	if !validMethods[p.Method] {
		return fmt.Errorf("invalid http method: %s", p.Method)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must be a positive number")
	}
	if p.Retry != nil {
		if p.Retry.Attempts <= 0 {
			return fmt.Errorf("retry attempts must be a positive number")
		}
		if p.Retry.Delay <= 0 {
			return fmt.Errorf("retry delay must be a positive number")
		}
		if len(p.Retry.StatusCodes) == 0 {
			return fmt.Errorf("retry status codes must be a non-empty list")
		}
		for _, code := range p.Retry.StatusCodes {
			if code < 100 || code > 599 {
				return fmt.Errorf("invalid retry status code: %d", code)
			}
		}
	}
	if p.Cache != nil && p.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be a positive number")
	}
	return nil
}

// retryOn reports whether the response status warrants another attempt.
func (p *Params) retryOn(status, attempt int) bool {
	if p.Retry == nil || attempt >= p.Retry.Attempts {
		return false
	}
	for _, code := range p.Retry.StatusCodes {
		if code == status {
			return true
		}
	}
	return false
}

// cacheKey identifies a GET response including its query string.
func (p *Params) cacheKey() string {
	key := p.Method + ":" + p.URL
	if len(p.QueryParams) > 0 {
		values := url.Values{}
		for k, v := range p.QueryParams {
			values.Set(k, v)
		}
		key += "?" + values.Encode()
	}
	return key
}

// Response is the observable outcome of a webhook call. Duration is in
// milliseconds.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Data       any               `json:"data"`
	Headers    map[string]string `json:"headers"`
	Duration   int64             `json:"duration,omitempty"`
	RetryCount int               `json:"retryCount"`
	FromCache  bool              `json:"fromCache,omitempty"`
}

// Executor performs HTTP calls for webhook nodes with status-code driven
// retry and an optional response cache for GET requests.
type Executor struct {
	client *http.Client
	cache  Cache
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithCache attaches a response cache for GET requests.
func WithCache(cache Cache) Option {
	return func(e *Executor) { e.cache = cache }
}

// WithSleep replaces the retry delay function, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// New constructs a webhook Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		client: http.DefaultClient,
		sleep:  sleepWithContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements schema.Executor.
func (e *Executor) Execute(ctx context.Context, data json.RawMessage) (schema.Result, error) {
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return schema.Result{}, fmt.Errorf("decode webhook params: %w", err)
	}

	resp, err := e.Call(ctx, params)
	if err != nil {
		return schema.Result{}, err
	}
	return schema.Result{Success: true, Data: resp}, nil
}

// Call validates params and performs the request. Responses with an error
// status are still returned as responses once the retry budget is spent;
// only transport failures surface as errors.
func (e *Executor) Call(ctx context.Context, params Params) (*Response, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	cacheable := e.cache != nil && params.Cache != nil && params.Method == http.MethodGet
	if cacheable {
		if cached, ok := e.cacheGet(ctx, params.cacheKey()); ok {
			return cached, nil
		}
	}

	start := e.now()
	var retryCount int
	for {
		resp, err := e.request(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &Error{URL: params.URL, Err: err}
		}

		if params.retryOn(resp.StatusCode, retryCount) {
			retryCount++
			delay := time.Duration(params.Retry.Delay) * time.Millisecond
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		resp.Duration = e.now().Sub(start).Milliseconds()
		resp.RetryCount = retryCount

		if cacheable && resp.StatusCode < http.StatusBadRequest {
			e.cacheSet(ctx, params.cacheKey(), resp, time.Duration(params.Cache.TTL)*time.Second)
		}
		return resp, nil
	}
}

func (e *Executor) request(ctx context.Context, params Params) (*Response, error) {
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.Timeout)*time.Millisecond)
		defer cancel()
	}

	var body io.Reader
	if params.Body != nil {
		encoded, err := json.Marshal(params.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, params.Method, params.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}
	if params.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(params.QueryParams) > 0 {
		q := req.URL.Query()
		for k, v := range params.QueryParams {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Data:       decodeBody(raw),
		Headers:    flattenHeaders(httpResp.Header),
	}, nil
}

// decodeBody parses a JSON body when possible and falls back to the raw text.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func (e *Executor) cacheGet(ctx context.Context, key string) (*Response, bool) {
	resp, ok, err := e.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	resp.FromCache = true
	return resp, true
}

func (e *Executor) cacheSet(ctx context.Context, key string, resp *Response, ttl time.Duration) {
	// Cache writes are best effort.
	_ = e.cache.Set(ctx, key, resp, ttl)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
