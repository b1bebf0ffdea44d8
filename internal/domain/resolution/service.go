package resolution

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kadirbelkuyu/bdns/internal/dns"
	"github.com/kadirbelkuyu/bdns/internal/domain/cache"
	"github.com/kadirbelkuyu/bdns/internal/pac"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidArgument is returned by Lookup for a domain the cache cannot hold.
var ErrInvalidArgument = cache.ErrInvalidArgument

type Config struct {
	Endpoints     []string
	Timeout       time.Duration
	MaxTimeout    time.Duration
	CacheTTL      time.Duration
	MaxEntries    int
	PruneInterval time.Duration
	RateLimit     int
	RandomStart   bool
	TouchOnHit    bool
}

// Resolver performs a single resolution against the API.
type Resolver interface {
	Resolve(ctx context.Context, domain string) dns.Outcome
}

// HostRotator moves resolution to the next API endpoint.
type HostRotator interface {
	Rotate() string
}

type Status int

const (
	StatusUnavailable Status = iota
	StatusResolved
	StatusNonExistent
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusNonExistent:
		return "non-existent"
	default:
		return "unavailable"
	}
}

// Result is what a lookup reports to its caller. Err is set only for
// StatusUnavailable.
type Result struct {
	Domain string
	IPs    []string
	Status Status
	Cached bool
	Err    error
}

type Service struct {
	config   Config
	logger   *zap.Logger
	clock    clock.Clock
	cache    *cache.Cache
	pac      *pac.Synthesizer
	resolver Resolver
	hosts    HostRotator
	inflight singleflight.Group
}

type Option func(*Service)

// WithResolver replaces the HTTP client and host pool built from Config.
func WithResolver(r Resolver, hosts HostRotator) Option {
	return func(s *Service) {
		s.resolver = r
		s.hosts = hosts
	}
}

func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

func NewService(config Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if config.CacheTTL <= 0 {
		config.CacheTTL = cache.DefaultTTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = cache.DefaultMaxLength
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = dns.DefaultTimeout
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = dns.MaxTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config: config,
		logger: logger,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.resolver == nil {
		start := 0
		if config.RandomStart && len(config.Endpoints) > 0 {
			start = rand.IntN(len(config.Endpoints))
		}
		pool, err := dns.NewPool(config.Endpoints, start, logger.Named("pool"))
		if err != nil {
			return nil, err
		}
		s.resolver = dns.NewClient(pool, logger.Named("client"),
			dns.WithTimeout(config.Timeout),
			dns.WithMaxTimeout(config.MaxTimeout),
			dns.WithRateLimit(config.RateLimit))
		s.hosts = pool
	}

	s.cache = cache.New(
		cache.WithMaxLength(config.MaxEntries),
		cache.WithDefaultTTL(config.CacheTTL),
		cache.WithClock(s.clock),
		cache.OnIPChange(s.onIPChange),
		cache.OnDomainDelete(s.onDomainDelete),
	)
	s.pac = pac.NewSynthesizer(s.cache, logger.Named("pac"))

	return s, nil
}

// Start prunes expired entries every PruneInterval until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting resolution service",
		zap.Int("max_entries", s.config.MaxEntries),
		zap.Duration("cache_ttl", s.config.CacheTTL),
		zap.Duration("prune_interval", s.config.PruneInterval))

	ticker := s.clock.Ticker(s.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Prune()
		}
	}
}

// Lookup returns the cached answer for domain or waits for a resolution.
func (s *Service) Lookup(ctx context.Context, domain string) (Result, error) {
	ch, err := s.LookupAsync(ctx, domain)
	if err != nil {
		return Result{}, err
	}
	return <-ch, nil
}

// LookupAsync answers from the cache immediately or resolves in the
// background. The channel always receives exactly one Result. Overlapping
// lookups of the same uncached domain share one resolver call; cancelling ctx
// abandons the wait but not the shared call.
func (s *Service) LookupAsync(ctx context.Context, domain string) (<-chan Result, error) {
	if !cache.ValidDomain(domain) {
		return nil, fmt.Errorf("lookup %q: %w", domain, ErrInvalidArgument)
	}

	out := make(chan Result, 1)

	if ips, ok := s.cache.IPs(domain); ok {
		if s.config.TouchOnHit {
			s.cache.SetVisited(domain)
		}
		out <- cachedResult(domain, ips)
		return out, nil
	}

	s.logger.Debug("Resolving", zap.String("domain", domain))
	shared := s.inflight.DoChan(domain, func() (interface{}, error) {
		return s.resolve(domain), nil
	})

	go func() {
		select {
		case r := <-shared:
			res := r.Val.(Result)
			res.IPs = cloneIPs(res.IPs)
			out <- res
		case <-ctx.Done():
			out <- Result{Domain: domain, Status: StatusUnavailable, Err: ctx.Err()}
		}
	}()
	return out, nil
}

func (s *Service) resolve(domain string) Result {
	outcome := s.resolver.Resolve(context.Background(), domain)

	switch outcome.Kind {
	case dns.Resolved:
		if err := s.cache.Set(domain, outcome.IPs); err != nil {
			return s.unavailable(domain, err)
		}
		s.logger.Info("Resolved",
			zap.String("domain", domain),
			zap.Strings("ips", outcome.IPs),
			zap.Int("cache_size", s.cache.Len()))
		return Result{Domain: domain, IPs: outcome.IPs, Status: StatusResolved}

	case dns.NonExistent:
		if err := s.cache.Set(domain, []string{}); err != nil {
			return s.unavailable(domain, err)
		}
		s.logger.Info("Non-existent domain", zap.String("domain", domain))
		return Result{Domain: domain, IPs: []string{}, Status: StatusNonExistent}

	default:
		next := s.hosts.Rotate()
		s.logger.Warn("Resolution is temporarily unavailable",
			zap.String("domain", domain),
			zap.String("next_endpoint", next),
			zap.Error(outcome.Err))
		err := outcome.Err
		if err == nil {
			err = errors.New("resolution failed")
		}
		return Result{Domain: domain, Status: StatusUnavailable, Err: err}
	}
}

func (s *Service) unavailable(domain string, err error) Result {
	s.logger.Error("Failed to cache resolution", zap.String("domain", domain), zap.Error(err))
	return Result{Domain: domain, Status: StatusUnavailable, Err: err}
}

// Prune drops entries not visited within the configured TTL.
func (s *Service) Prune() int {
	count := s.cache.Prune(s.config.CacheTTL)
	s.logger.Info("Deleted expired entries",
		zap.Int("count", count),
		zap.Int("cache_size", s.cache.Len()))
	return count
}

func (s *Service) CurrentScript() string {
	return s.pac.Script()
}

func (s *Service) OnScriptReady(fn func(script string)) {
	s.pac.OnScriptReady(fn)
}

// Route applies the current routing table to a request.
func (s *Service) Route(url, host string) string {
	return s.pac.Route(url, host)
}

func (s *Service) Len() int {
	return s.cache.Len()
}

func (s *Service) onIPChange(domain string, ips []string, existed bool) {
	s.pac.OnIPChange(domain, ips, existed)
}

func (s *Service) onDomainDelete(domain string) {
	s.logger.Debug("Domain removed from cache", zap.String("domain", domain))
	s.pac.OnDomainDelete(domain)
}

func cachedResult(domain string, ips []string) Result {
	status := StatusResolved
	if len(ips) == 0 {
		status = StatusNonExistent
	}
	return Result{Domain: domain, IPs: ips, Status: status, Cached: true}
}

func cloneIPs(ips []string) []string {
	if ips == nil {
		return nil
	}
	return append(make([]string, 0, len(ips)), ips...)
}
