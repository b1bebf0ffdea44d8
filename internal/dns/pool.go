package dns

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrNoEndpoints = errors.New("no API endpoints configured")

// Pool is a round-robin list of resolution API base URLs. It keeps no health
// state; Rotate simply moves to the next endpoint.
type Pool struct {
	mu        sync.Mutex
	endpoints []string
	index     int
	logger    *zap.Logger
}

func NewPool(endpoints []string, start int, logger *zap.Logger) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if start < 0 {
		start = -start
	}
	return &Pool{
		endpoints: append([]string(nil), endpoints...),
		index:     start % len(endpoints),
		logger:    logger,
	}, nil
}

func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.index]
}

func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Rotate advances to the next endpoint, wrapping to the first, and returns it.
func (p *Pool) Rotate() string {
	p.mu.Lock()
	p.index++
	if p.index >= len(p.endpoints) {
		p.index = 0
	}
	index, endpoint := p.index, p.endpoints[p.index]
	p.mu.Unlock()

	p.logger.Info("Switched API server",
		zap.Int("index", index),
		zap.String("endpoint", endpoint))
	return endpoint
}

func (p *Pool) Endpoints() []string {
	return append([]string(nil), p.endpoints...)
}
