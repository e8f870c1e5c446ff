// Package proxypool implements a power-of-two-choices proxy selector
// scored by an exponentially weighted moving average of request latency.
package proxypool

import (
	"bufio"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
)

// InitialEMAMillis seeds every proxy's latency estimate before it has
// served a request, so a brand-new proxy is neither favored nor
// penalized relative to an average-performing one.
const InitialEMAMillis = 1000

// FailurePenaltyMillis is the EMA observation recorded for a network-layer
// failure. It must be large enough that a handful of failures push a
// proxy to the back of the P2C distribution, but it is never a hard
// removal — a proxy that stops failing recovers as the EMA decays back
// down.
const FailurePenaltyMillis = 15000

// emaAlpha is the weight given to the new observation: ema = (1-alpha)*ema + alpha*observed.
const emaAlpha = 0.2

// entry holds one proxy's address and its latency score. The score is
// stored as a fixed-point (milliseconds * 1000) int64 behind sync/atomic
// so concurrent EMA updates need no lock; observe retries its
// compare-and-swap until it lands, so no update is lost.
type entry struct {
	addr      string
	emaMicros atomic.Int64
}

// Pool selects a proxy via power-of-two-choices on EMA latency. The zero
// value is not usable; construct with New or Load.
type Pool struct {
	entries []*entry
}

// New builds a Pool from a list of already-parsed proxy addresses, each
// either "host:port" or "host:port:user:pass".
func New(addrs []string) *Pool {
	p := &Pool{entries: make([]*entry, 0, len(addrs))}
	for _, a := range addrs {
		e := &entry{addr: a}
		e.emaMicros.Store(InitialEMAMillis * 1000)
		p.entries = append(p.entries, e)
	}
	return p
}

// Load reads one or more proxy list files, each line "ip:port" or
// "ip:port:user:pass", and merges them into a single Pool. A missing file
// is an error; an empty file yields a Pool with no entries, and Select on
// an empty Pool returns ("", false) so callers fall back to a direct,
// unproxied request.
func Load(paths []string) (*Pool, error) {
	var addrs []string
	for _, path := range paths {
		lines, err := readLines(path)
		if err != nil {
			return nil, fmt.Errorf("proxypool: load %s: %w", path, err)
		}
		addrs = append(addrs, lines...)
	}
	return New(addrs), nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Len returns the number of proxies in the pool.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Select picks two distinct random proxies and returns the one with the
// lower EMA latency (power-of-two-choices). Returns ("", false) when the
// pool has fewer than one entry; callers must fall back to a direct
// request. A pool with exactly one entry always returns that entry.
func (p *Pool) Select() (string, bool) {
	if p == nil || len(p.entries) == 0 {
		return "", false
	}
	if len(p.entries) == 1 {
		return p.entries[0].addr, true
	}

	i := rand.Intn(len(p.entries))
	j := i
	for j == i {
		j = rand.Intn(len(p.entries))
	}

	a, b := p.entries[i], p.entries[j]
	if a.emaMicros.Load() <= b.emaMicros.Load() {
		return a.addr, true
	}
	return b.addr, true
}

// ReportSuccess records an observed request latency (in milliseconds) for
// the named proxy, decaying its EMA toward the observation.
func (p *Pool) ReportSuccess(addr string, latencyMillis float64) {
	p.observe(addr, latencyMillis)
}

// ReportFailure records a network-layer failure for the named proxy,
// decaying its EMA toward FailurePenaltyMillis.
func (p *Pool) ReportFailure(addr string) {
	p.observe(addr, FailurePenaltyMillis)
}

func (p *Pool) observe(addr string, observedMillis float64) {
	e := p.find(addr)
	if e == nil {
		return
	}
	for {
		old := e.emaMicros.Load()
		oldMillis := float64(old) / 1000
		newMillis := (1-emaAlpha)*oldMillis + emaAlpha*observedMillis
		newVal := int64(newMillis * 1000)
		if e.emaMicros.CompareAndSwap(old, newVal) {
			return
		}
	}
}

func (p *Pool) find(addr string) *entry {
	for _, e := range p.entries {
		if e.addr == addr {
			return e
		}
	}
	return nil
}

// EMAMillis returns the current EMA latency estimate for addr, or -1 if
// addr is not in the pool. Exposed for tests and diagnostics.
func (p *Pool) EMAMillis(addr string) float64 {
	e := p.find(addr)
	if e == nil {
		return -1
	}
	return float64(e.emaMicros.Load()) / 1000
}

// ProxyURL parses a pool address into a *url.URL suitable for
// http.Transport.Proxy / http.ProxyURL. Supports "host:port" and
// "host:port:user:pass" forms.
func ProxyURL(addr string) (*url.URL, error) {
	parts := strings.Split(addr, ":")
	switch len(parts) {
	case 2:
		return url.Parse(fmt.Sprintf("http://%s:%s", parts[0], parts[1]))
	case 4:
		return url.Parse(fmt.Sprintf("http://%s:%s@%s:%s", parts[2], parts[3], parts[0], parts[1]))
	default:
		return nil, fmt.Errorf("proxypool: malformed proxy address %q", addr)
	}
}
