package pac

import (
	"slices"
	"sync"

	"github.com/kadirbelkuyu/bdns/internal/domain/cache"
	"go.uber.org/zap"
)

// Source is anything that can enumerate cache entries.
type Source interface {
	Each(visit func(domain string, entry cache.Entry) bool)
}

// Synthesizer keeps the latest script built from a Source. Each rebuild scans
// the whole source, which stays cheap only while the cache is capped at a
// modest size.
type Synthesizer struct {
	source Source
	logger *zap.Logger

	// rebuildMu orders whole rebuilds so an older snapshot never replaces a
	// newer one.
	rebuildMu sync.Mutex

	mu        sync.RWMutex
	table     Table
	script    string
	listeners []func(script string)
}

func NewSynthesizer(source Source, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	script, _ := Render(Table{})
	return &Synthesizer{
		source: source,
		logger: logger,
		table:  Table{},
		script: script,
	}
}

// BuildTable collects every entry with at least one address.
func BuildTable(src Source) Table {
	t := Table{}
	src.Each(func(domain string, entry cache.Entry) bool {
		if len(entry.IPs) > 0 {
			t[domain] = entry.IPs
		}
		return true
	})
	return t
}

// Rebuild regenerates the script from the source and notifies listeners.
func (s *Synthesizer) Rebuild() (string, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	table := BuildTable(s.source)
	script, err := Render(table)
	if err != nil {
		s.logger.Error("Failed to render PAC script", zap.Error(err))
		return "", err
	}

	s.mu.Lock()
	s.table = table
	s.script = script
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.Debug("Set new PAC script",
		zap.Int("domains", len(table)),
		zap.Int("length", len(script)))

	for _, fn := range listeners {
		fn(script)
	}
	return script, nil
}

func (s *Synthesizer) Script() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.script
}

func (s *Synthesizer) Route(url, host string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Route(url, host)
}

// OnScriptReady registers fn to receive every rebuilt script, in rebuild
// order. fn runs inside the rebuild and must not trigger another one.
func (s *Synthesizer) OnScriptReady(fn func(script string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnIPChange is the cache hook. Non-existent domains never reach the script,
// so they do not trigger a rebuild.
func (s *Synthesizer) OnIPChange(domain string, ips []string, existed bool) {
	if len(ips) == 0 {
		return
	}
	_, _ = s.Rebuild()
}

// OnDomainDelete is the cache hook for removals. A stale table row is harmless:
// the domain is resolved again before the script is consulted for it.
func (s *Synthesizer) OnDomainDelete(domain string) {}
