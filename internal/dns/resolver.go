package dns

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// Upstream resolves ordinary ICANN names for traffic the proxy passes through.
type Upstream struct {
	servers []string
	timeout time.Duration
	retries int
	logger  *zap.Logger
}

func NewUpstream(logger *zap.Logger) *Upstream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upstream{
		servers: []string{
			"1.1.1.1:53",        // Cloudflare
			"8.8.8.8:53",        // Google
			"9.9.9.9:53",        // Quad9
			"208.67.222.222:53", // OpenDNS
		},
		timeout: 5 * time.Second,
		retries: 2,
		logger:  logger,
	}
}

// ResolveHost returns the IPs for host, trying every server per round.
func (u *Upstream) ResolveHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}

	var lastErr error
	for i := 0; i < u.retries; i++ {
		for _, server := range u.servers {
			ips, err := u.resolveWithServer(ctx, host, server)
			if err == nil {
				return ips, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			u.logger.Debug("Upstream lookup failed",
				zap.String("host", host),
				zap.String("server", server),
				zap.Error(err))
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("failed to resolve %s after %d rounds: %w", host, u.retries, lastErr)
}

func (u *Upstream) resolveWithServer(ctx context.Context, host, server string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: u.timeout}
			return d.DialContext(ctx, "udp", server)
		},
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no IPs found for %s", host)
	}

	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP.String())
	}
	return ips, nil
}
