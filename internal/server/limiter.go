package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

const limiterIdleTimeout = 10 * time.Minute

type LimiterSettings struct {
	MaxConnections      int
	MaxConnectionsPerIP int
	ConnectRate         float64
	ConnectBurst        int

	// X-Forwarded-For is honored only when the peer is one of these proxies.
	TrustedProxies []netip.Prefix
}

// ConnectionLimiter admits stream connections. A zero setting disables the
// corresponding check.
type ConnectionLimiter struct {
	settings LimiterSettings
	clock    clockwork.Clock

	mu        sync.Mutex
	total     int
	perIP     map[string]int
	limiters  map[string]*rateLimiterEntry
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimiter(settings LimiterSettings, clock clockwork.Clock) *ConnectionLimiter {
	return &ConnectionLimiter{
		settings:  settings,
		clock:     clock,
		perIP:     make(map[string]int),
		limiters:  make(map[string]*rateLimiterEntry),
		cleanupAt: clock.Now().Add(limiterIdleTimeout),
	}
}

// Acquire reserves a slot for ip. Every successful Acquire must be paired
// with a Release.
func (l *ConnectionLimiter) Acquire(ip string) (bool, LimitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	if now.After(l.cleanupAt) {
		l.cleanupLocked(now)
		l.cleanupAt = now.Add(limiterIdleTimeout)
	}

	if l.settings.ConnectRate > 0 {
		entry, ok := l.limiters[ip]
		if !ok {
			entry = &rateLimiterEntry{
				limiter: rate.NewLimiter(rate.Limit(l.settings.ConnectRate), max(l.settings.ConnectBurst, 1)),
			}
			l.limiters[ip] = entry
		}

		entry.lastSeen = now

		if !entry.limiter.AllowN(now, 1) {
			return false, LimitReasonRate
		}
	}

	if l.settings.MaxConnections > 0 && l.total >= l.settings.MaxConnections {
		return false, LimitReasonGlobal
	}

	if l.settings.MaxConnectionsPerIP > 0 && l.perIP[ip] >= l.settings.MaxConnectionsPerIP {
		return false, LimitReasonPerIP
	}

	l.total++
	l.perIP[ip]++

	return true, ""
}

func (l *ConnectionLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.perIP[ip]; count > 0 {
		l.total--

		if count == 1 {
			delete(l.perIP, ip)
		} else {
			l.perIP[ip] = count - 1
		}
	}
}

func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.total
}

// IMPORTANT: It must be called only when the lock is already held.
func (l *ConnectionLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-limiterIdleTimeout)

	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// ClientIP returns the address admission is keyed on. Forwarded addresses
// are read right to left and trusted proxies are skipped, so a client cannot
// pick its own key by sending the header.
func (l *ConnectionLimiter) ClientIP(r *http.Request) string {
	peer := remoteHost(r)

	if !l.trusted(peer) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")

	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}

		if !l.trusted(hop) {
			return hop
		}
	}

	return peer
}

func (l *ConnectionLimiter) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	addr = addr.Unmap()

	for _, prefix := range l.settings.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// ParseTrustedProxies accepts a comma separated list of addresses and CIDR
// ranges.
func ParseTrustedProxies(value string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		if strings.Contains(item, "/") {
			prefix, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}

			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}

		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, nil
}
