// Package retry wraps one outbound HTTP call with quota, bounded exponential
// backoff and a per-API circuit breaker.
//
// Every attempt first takes quota from the rate limiter, so retries are paid
// for like any other call. A 429, a 5xx or a transport error backs off and
// tries again; a 401 stops immediately with an *AuthenticationError; any
// other non-2xx status stops with an *HTTPError. When the retries run out the
// call fails with an *ExhaustedRetriesError carrying the attempt log.
package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"golang.org/x/time/rate"

	"github.com/omarluq/quota-relay/internal/cache"
	"github.com/omarluq/quota-relay/internal/health"
	"github.com/omarluq/quota-relay/internal/ratelimit"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 16 << 20

// Request describes one outbound call.
type Request struct {
	Header http.Header

	// Policy overrides the policy resolved from the registry by API.
	Policy *ratelimit.Policy

	// API names the quota and the circuit breaker the call belongs to.
	API string

	// Endpoint selects the bucket within the API; empty means the policy default.
	Endpoint string

	// Method defaults to GET.
	Method string
	URL    string
	Body   []byte
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// Attempt records one attempt of a retry sequence.
type Attempt struct {
	Err        error
	Number     int
	WaitBefore time.Duration
	Status     int
	Terminal   bool
}

// Response is a successful upstream response.
type Response struct {
	Header     http.Header
	SequenceID string
	Body       []byte
	Attempts   []Attempt
	TotalWait  time.Duration
	Status     int
	Cached     bool
}

// Controller executes requests. It is safe for concurrent use.
type Controller struct {
	limiter *ratelimit.Limiter
	tracker *health.Tracker
	cache   cache.Cache
	client  *http.Client
	pacer   *rate.Limiter
	sleep   ratelimit.SleepFunc
	log     zerolog.Logger
	cfg     Config
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) ControllerOption {
	return func(c *Controller) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTracker enables per-API circuit breakers.
func WithTracker(tracker *health.Tracker) ControllerOption {
	return func(c *Controller) { c.tracker = tracker }
}

// WithCache caches successful GET responses.
func WithCache(responses cache.Cache) ControllerOption {
	return func(c *Controller) { c.cache = responses }
}

// WithSleeper replaces the sleep used between attempts.
func WithSleeper(sleep ratelimit.SleepFunc) ControllerOption {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.log = logger.With().Str("component", "retry").Logger()
		}
	}
}

// New creates a Controller that takes quota from limiter before every attempt.
func New(cfg Config, limiter *ratelimit.Limiter, opts ...ControllerOption) *Controller {
	c := &Controller{
		cfg:     cfg,
		limiter: limiter,
		client:  http.DefaultClient,
		sleep:   ratelimit.Sleep,
		log:     zerolog.Nop(),
	}
	if interval := cfg.GetMinInterval(); interval > 0 {
		c.pacer = rate.NewLimiter(rate.Every(interval), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option overrides controller defaults for one call.
type Option func(*callOptions)

type callOptions struct {
	maxRetries     int
	initialBackoff time.Duration
	maxWait        time.Duration
	noCache        bool
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(o *callOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithInitialBackoff sets the wait before the first retry.
func WithInitialBackoff(d time.Duration) Option {
	return func(o *callOptions) {
		if d > 0 {
			o.initialBackoff = d
		}
	}
}

// WithMaxWait sets the quota wait ceiling per attempt.
func WithMaxWait(d time.Duration) Option {
	return func(o *callOptions) {
		if d >= 0 {
			o.maxWait = d
		}
	}
}

// WithoutCache bypasses the response cache for one call.
func WithoutCache() Option {
	return func(o *callOptions) { o.noCache = true }
}

// Execute runs req until it succeeds or reaches a terminal failure.
func (c *Controller) Execute(ctx context.Context, req Request, opts ...Option) (*Response, error) {
	o := callOptions{
		maxRetries:     c.cfg.GetMaxRetries(),
		initialBackoff: c.cfg.GetInitialBackoff(),
		maxWait:        c.cfg.GetMaxWait(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := c.policyFor(&req)
	if err != nil {
		return nil, err
	}
	if req.API == "" {
		req.API = policy.Name
	}
	if err := validateURL(ctx, &req); err != nil {
		return nil, err
	}

	seq := uuid.NewString()
	log := c.log.With().Str("sequence_id", seq).Str("api", req.API).Logger()

	cacheKey := ""
	if c.cache != nil && !o.noCache && req.method() == http.MethodGet {
		cacheKey = cache.Key(req.API, req.method(), req.URL)
		if entry, err := c.cache.Get(ctx, cacheKey); err == nil {
			log.Debug().Str("url", req.URL).Msg("served from cache")
			return &Response{
				Status:     entry.Status,
				Header:     entry.Header,
				Body:       entry.Body,
				SequenceID: seq,
				Cached:     true,
			}, nil
		}
	}

	s := sequence{log: log}
	for number := 1; ; number++ {
		resp, err := c.attempt(ctx, &req, policy, o.maxWait)
		if err != nil && resp == nil {
			// Quota, breaker or context failure: no request was sent.
			return nil, err
		}

		att := Attempt{Number: number, Status: resp.status, Err: err, WaitBefore: s.pendingWait}
		s.pendingWait = 0

		switch classify(resp.status, err) {
		case outcomeSuccess:
			att.Terminal = true
			s.record(att)
			out := &Response{
				Status:     resp.status,
				Header:     resp.header,
				Body:       resp.body,
				SequenceID: seq,
				Attempts:   s.attempts,
				TotalWait:  s.totalWait,
			}
			c.store(ctx, cacheKey, out, log)
			return out, nil

		case outcomeAuth:
			att.Terminal = true
			s.record(att)
			log.Error().Int("status", resp.status).Msg("authentication failed, not retrying")
			return nil, &AuthenticationError{API: req.API, Status: resp.status, Body: resp.body}

		case outcomeFatal:
			att.Terminal = true
			s.record(att)
			log.Warn().Int("status", resp.status).Msg("request rejected")
			return nil, &HTTPError{API: req.API, Status: resp.status, Body: resp.body}

		case outcomeRetry:
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				att.Err = &TransientNetworkError{API: req.API, Err: err}
			}
			if number > o.maxRetries {
				att.Terminal = true
				s.record(att)
				exhausted := &ExhaustedRetriesError{
					API:        req.API,
					Attempts:   s.attempts,
					TotalWait:  s.totalWait,
					LastStatus: att.Status,
					LastErr:    att.Err,
				}
				log.Error().Err(exhausted).Int("attempts", number).Msg("retries exhausted")
				return nil, exhausted
			}
			s.record(att)

			wait := backoff(o.initialBackoff, number)
			log.Warn().
				Int("attempt", number).
				Int("status", att.Status).
				AnErr("transport_error", att.Err).
				Dur("backoff", wait).
				Msg("retryable failure, backing off")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			s.pendingWait = wait
			s.totalWait += wait
		}
	}
}

// Try is Execute with the outcome folded into a mo.Result.
func (c *Controller) Try(ctx context.Context, req Request, opts ...Option) mo.Result[*Response] {
	return mo.TupleToResult(c.Execute(ctx, req, opts...))
}

// Get is a shorthand for a GET request against api.
func (c *Controller) Get(ctx context.Context, api, endpoint, url string, opts ...Option) (*Response, error) {
	return c.Execute(ctx, Request{API: api, Endpoint: endpoint, URL: url}, opts...)
}

func (c *Controller) policyFor(req *Request) (ratelimit.Policy, error) {
	if req.Policy != nil {
		return *req.Policy, nil
	}
	if req.API == "" {
		return ratelimit.Policy{}, &ratelimit.ConfigurationError{Field: "api", Reason: "is required"}
	}
	return c.limiter.Registry().Resolve(req.API)
}

func validateURL(ctx context.Context, req *Request) error {
	if req.URL == "" {
		return &ratelimit.ConfigurationError{Field: "url", Reason: "is required"}
	}
	r, err := http.NewRequestWithContext(ctx, req.method(), req.URL, nil)
	if err != nil {
		return &ratelimit.ConfigurationError{Field: "url", Reason: err.Error(), Value: req.URL}
	}
	if r.URL.Scheme != "http" && r.URL.Scheme != "https" {
		return &ratelimit.ConfigurationError{Field: "url", Reason: "scheme must be http or https", Value: req.URL}
	}
	return nil
}

// sequence accumulates the attempt log of one Execute call.
type sequence struct {
	log         zerolog.Logger
	attempts    []Attempt
	pendingWait time.Duration
	totalWait   time.Duration
}

func (s *sequence) record(a Attempt) {
	s.attempts = append(s.attempts, a)
	s.log.Debug().
		Int("attempt", a.Number).
		Int("status", a.Status).
		Dur("wait_before", a.WaitBefore).
		Bool("terminal", a.Terminal).
		Msg("attempt finished")
}

type rawResponse struct {
	header http.Header
	body   []byte
	status int
}

// attempt performs one paid, paced, breaker-guarded request. A nil response
// means nothing was sent; a non-nil response with an error is a transport
// failure. The breaker is consulted before quota is spent, so a rejected call
// costs no token.
func (c *Controller) attempt(ctx context.Context, req *Request, policy ratelimit.Policy, maxWait time.Duration) (*rawResponse, error) {
	done := func(error) {}
	if c.tracker != nil {
		if !c.tracker.IsHealthy(req.API) {
			return nil, fmt.Errorf("%s: %w", req.API, health.ErrCircuitOpen)
		}
		d, err := c.tracker.Circuit(req.API).Allow()
		if err != nil {
			return nil, err
		}
		done = d
	}

	if err := c.limiter.Wait(ctx, req.API, req.Endpoint, 1, policy, maxWait); err != nil {
		done(fmt.Errorf("%w: %w", health.ErrNotAttempted, err))
		return nil, err
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			done(fmt.Errorf("%w: %w", health.ErrNotAttempted, err))
			return nil, err
		}
	}

	resp, err := c.send(ctx, req)
	if health.ShouldCountAsFailure(resp.status, err) {
		done(breakerFailure(resp.status, err))
	} else {
		done(nil)
	}
	return resp, err
}

func breakerFailure(status int, err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("upstream status %d", status)
}

func (c *Controller) send(ctx context.Context, req *Request) (*rawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetTimeout())
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), req.URL, body)
	if err != nil {
		return &rawResponse{}, err
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return &rawResponse{}, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return &rawResponse{}, err
	}
	return &rawResponse{status: httpResp.StatusCode, header: httpResp.Header, body: data}, nil
}

func (c *Controller) store(ctx context.Context, key string, resp *Response, log zerolog.Logger) {
	if key == "" {
		return
	}
	err := c.cache.Put(ctx, key, cache.Entry{
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		StoredAt: time.Now(),
	})
	if err != nil && !errors.Is(err, cache.ErrClosed) {
		log.Warn().Err(err).Msg("failed to cache response")
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeAuth
	outcomeFatal
)

func classify(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeRetry
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == http.StatusUnauthorized:
		return outcomeAuth
	case status == http.StatusTooManyRequests, status >= 500:
		return outcomeRetry
	default:
		return outcomeFatal
	}
}

// backoff returns the wait before retry r (1-based): initial * 2^(r-1).
func backoff(initial time.Duration, retry int) time.Duration {
	return initial << min(retry-1, 30)
}
