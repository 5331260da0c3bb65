package rpc

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies a token bucket per client address to transaction
// submission. Idle buckets are swept lazily.
type rateLimiter struct {
	mu        sync.Mutex
	perSecond rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(requestsPerMinute float64, burst int) *rateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		perSecond: rate.Limit(requestsPerMinute / 60.0),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

func (r *rateLimiter) allow(source string) bool {
	if r == nil {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) > visitorTTL {
		for id, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(r.visitors, id)
			}
		}
		r.lastSweep = now
	}
	v, ok := r.visitors[source]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.visitors[source] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// maxForwardedForAddrs bounds how much of an X-Forwarded-For chain is walked.
const maxForwardedForAddrs = 16

// proxySet holds the peers allowed to speak for a client through
// X-Forwarded-For or X-Real-IP.
type proxySet struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

func newProxySet(entries []string) (*proxySet, error) {
	set := &proxySet{addrs: make(map[netip.Addr]struct{})}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			set.prefixes = append(set.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		set.addrs[addr.Unmap()] = struct{}{}
	}
	return set, nil
}

func (p *proxySet) trusts(addr netip.Addr) bool {
	if p == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if _, ok := p.addrs[addr]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseHostAddr accepts "ip" or "ip:port".
func parseHostAddr(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(strings.Trim(raw, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// clientSource identifies the caller for rate limiting. Forwarded headers are
// only honoured when the direct peer is a trusted proxy; the chain is walked
// from the right and the first untrusted hop wins.
func (s *Server) clientSource(r *http.Request) string {
	remote, ok := parseHostAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !s.proxies.trusts(remote) {
		return remote.String()
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		if len(hops) > maxForwardedForAddrs {
			return remote.String()
		}
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseHostAddr(hops[i])
			if !ok {
				return remote.String()
			}
			if !s.proxies.trusts(hop) {
				return hop.String()
			}
		}
	}
	if realIP, ok := parseHostAddr(r.Header.Get("X-Real-IP")); ok {
		return realIP.String()
	}
	return remote.String()
}
