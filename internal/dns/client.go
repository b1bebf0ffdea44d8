package dns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 5 * time.Second
	MaxTimeout     = 30 * time.Second
	timeoutGrowth  = 1.5
	maxBodySize    = 64 << 10
	nxBody         = "nx"
)

var (
	ErrTimeout            = errors.New("resolver timed out")
	ErrUnexpectedResponse = errors.New("unexpected resolver response")
)

var (
	ipListPattern = regexp.MustCompile(`^[\d.\r\n]+$`)
	lineBreak     = regexp.MustCompile(`\r?\n`)
)

// Kind classifies the result of a single resolver call.
type Kind int

const (
	TransientError Kind = iota
	Resolved
	NonExistent
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case NonExistent:
		return "non-existent"
	default:
		return "transient-error"
	}
}

type Outcome struct {
	Kind Kind
	IPs  []string
	Err  error
}

// Client queries the current endpoint of a Pool. The timeout is shared by all
// calls and grows every time a call times out.
type Client struct {
	pool       *Pool
	httpClient *http.Client
	limiter    ratelimit.Limiter
	logger     *zap.Logger
	maxTimeout time.Duration

	mu      sync.Mutex
	timeout time.Duration
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithMaxTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.maxTimeout = d }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps API requests per second; zero or less disables the cap.
func WithRateLimit(rps int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = ratelimit.New(rps)
		} else {
			c.limiter = ratelimit.NewUnlimited()
		}
	}
}

func NewClient(pool *Pool, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		pool:       pool,
		httpClient: &http.Client{},
		limiter:    ratelimit.NewUnlimited(),
		logger:     logger,
		maxTimeout: MaxTimeout,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxTimeout < c.timeout {
		c.maxTimeout = c.timeout
	}
	return c
}

func (c *Client) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Resolve asks the current endpoint for the IPs of domain. It never returns
// partial results: anything but a well-formed answer is a TransientError.
func (c *Client) Resolve(ctx context.Context, domain string) Outcome {
	c.limiter.Take()

	endpoint := c.pool.Current()
	timeout := c.Timeout()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	apiURL := endpoint + url.PathEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return c.transient(domain, endpoint, fmt.Errorf("build request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.failed(ctx, domain, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return c.failed(ctx, domain, endpoint, err)
	}
	body := strings.TrimSpace(string(raw))

	c.logger.Debug("Resolver responded",
		zap.String("domain", domain),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.String("body", lineBreak.ReplaceAllString(body, ",")))

	switch {
	case resp.StatusCode == http.StatusOK && ipListPattern.MatchString(body):
		ips, err := parseIPs(body)
		if err != nil {
			return c.transient(domain, endpoint, err)
		}
		return Outcome{Kind: Resolved, IPs: ips}
	case resp.StatusCode == http.StatusNotFound && body == nxBody:
		return Outcome{Kind: NonExistent, IPs: []string{}}
	default:
		return c.transient(domain, endpoint,
			fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode))
	}
}

func (c *Client) failed(ctx context.Context, domain, endpoint string, err error) Outcome {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		next := c.growTimeout()
		c.logger.Warn("Resolver has timed out, increasing timeout",
			zap.String("domain", domain),
			zap.String("endpoint", endpoint),
			zap.Duration("timeout", next))
		return Outcome{Kind: TransientError, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	return c.transient(domain, endpoint, err)
}

func (c *Client) transient(domain, endpoint string, err error) Outcome {
	c.logger.Debug("Resolution failed",
		zap.String("domain", domain),
		zap.String("endpoint", endpoint),
		zap.Error(err))
	return Outcome{Kind: TransientError, Err: err}
}

func (c *Client) growTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = time.Duration(float64(c.timeout) * timeoutGrowth)
	if c.timeout > c.maxTimeout {
		c.timeout = c.maxTimeout
	}
	return c.timeout
}

func parseIPs(body string) ([]string, error) {
	lines := lineBreak.Split(body, -1)
	ips := make([]string, 0, len(lines))
	for _, line := range lines {
		addr, err := netip.ParseAddr(line)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%w: bad address %q", ErrUnexpectedResponse, line)
		}
		ips = append(ips, line)
	}
	return ips, nil
}
