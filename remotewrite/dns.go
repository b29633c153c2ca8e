package remotewrite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// DNSConfig configures resolution of the remote-write host. When enabled the
// configured resolvers race the system resolver and the first answer wins.
type DNSConfig struct {
	Enable          bool          `yaml:"enable"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	UDPServers      []string      `yaml:"udp_servers"`   // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	TLSServers      []string      `yaml:"tls_servers"`   // e.g. ["1.1.1.1:853"]
	DoHEndpoints    []string      `yaml:"doh_endpoints"` // e.g. ["https://cloudflare-dns.com/dns-query"]
}

func (c DNSConfig) withDefaults() DNSConfig {
	c.CacheTTL = pickDuration(c.CacheTTL, 10*time.Minute)
	c.RefreshInterval = pickDuration(c.RefreshInterval, 5*time.Minute)
	c.Timeout = pickDuration(c.Timeout, 800*time.Millisecond)
	return c
}

func pickDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

const resolveThrottle = time.Minute

// resolver tracks the addresses of one host and reports when they change.
type resolver struct {
	host   string
	cfg    DNSConfig
	logger *zap.Logger
	doh    *http.Client

	mu          sync.Mutex
	resolved    []string
	lastResolve time.Time
	cached      []string
	cachedUntil time.Time
}

func newResolver(host string, cfg DNSConfig, logger *zap.Logger) *resolver {
	return &resolver{host: host, cfg: cfg.withDefaults(), logger: logger, doh: http.DefaultClient}
}

// refresh resolves the host and reports whether the caller should rebuild
// its connections. Without force, resolves are throttled and served from
// the cache while it is fresh.
func (r *resolver) refresh(ctx context.Context, force bool) bool {
	if r.host == "" || net.ParseIP(r.host) != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !force && now.Sub(r.lastResolve) < resolveThrottle {
		return false
	}

	if !force && r.cfg.Enable && now.Before(r.cachedUntil) {
		r.lastResolve = now
		if slices.Equal(r.cached, r.resolved) {
			return false
		}
		r.resolved = r.cached
		r.logger.Info("DNS cache hit, refreshed client",
			zap.String("host", r.host), zap.Strings("ips", r.cached))
		return true
	}

	var (
		ips []string
		err error
	)
	if r.cfg.Enable {
		ips, err = r.resolveFastest(ctx)
	} else {
		ips, err = lookupSystem(ctx, r.host)
	}
	r.lastResolve = time.Now()

	if err != nil || len(ips) == 0 {
		r.logger.Warn("DNS lookup failed", zap.String("host", r.host), zap.Error(err))
		return false
	}

	slices.Sort(ips)
	changed := !slices.Equal(ips, r.resolved)
	r.resolved = ips
	if r.cfg.Enable {
		r.cached, r.cachedUntil = ips, r.lastResolve.Add(r.cfg.CacheTTL)
	}
	return changed || force
}

func (r *resolver) addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.resolved)
}

type lookupResult struct {
	ips []string
	err error
}

// resolveFastest queries every configured resolver and the system resolver
// concurrently and returns the first non-empty answer.
func (r *resolver) resolveFastest(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	lookups := []func(context.Context) ([]string, error){
		func(ctx context.Context) ([]string, error) { return lookupSystem(ctx, r.host) },
	}
	for _, srv := range r.cfg.UDPServers {
		lookups = append(lookups, func(ctx context.Context) ([]string, error) {
			return resolveDNS(ctx, r.host, srv, "udp", r.cfg.Timeout)
		})
	}
	for _, srv := range r.cfg.TLSServers {
		lookups = append(lookups, func(ctx context.Context) ([]string, error) {
			return resolveDNS(ctx, r.host, srv, "tcp-tls", r.cfg.Timeout)
		})
	}
	for _, ep := range r.cfg.DoHEndpoints {
		lookups = append(lookups, func(ctx context.Context) ([]string, error) {
			return resolveDoH(ctx, r.doh, r.host, ep)
		})
	}

	ch := make(chan lookupResult, len(lookups))
	for _, lookup := range lookups {
		go func() {
			ips, err := lookup(ctx)
			ch <- lookupResult{ips, err}
		}()
	}

	var firstErr error
	for range lookups {
		select {
		case res := <-ch:
			if res.err == nil && len(res.ips) > 0 {
				return res.ips, nil
			}
			if firstErr == nil {
				firstErr = res.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = errors.New("no dns result")
	}
	return nil, firstErr
}

func lookupSystem(ctx context.Context, host string) ([]string, error) {
	netIPs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(netIPs))
	for _, ip := range netIPs {
		ips = append(ips, ip.String())
	}
	return ips, nil
}

func question(host string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	return m
}

func answers(r *dns.Msg) []string {
	ips := make([]string, 0, len(r.Answer))
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips
}

// resolveDNS asks a plain ("udp") or DNS-over-TLS ("tcp-tls") server.
func resolveDNS(ctx context.Context, host, server, network string, timeout time.Duration) ([]string, error) {
	c := &dns.Client{Net: network, Timeout: timeout}
	r, _, err := c.ExchangeContext(ctx, question(host), server)
	if err != nil {
		return nil, fmt.Errorf("%s dns query to %s failed: %w", network, server, err)
	}
	if r == nil || r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s dns query to %s failed: rcode %s", network, server, rcodeString(r))
	}
	return answers(r), nil
}

func rcodeString(r *dns.Msg) string {
	if r == nil {
		return "none"
	}
	return dns.RcodeToString[r.Rcode]
}

// resolveDoH asks a DNS-over-HTTPS endpoint using the wire format (RFC 8484).
func resolveDoH(ctx context.Context, client *http.Client, host, endpoint string) ([]string, error) {
	payload, err := question(host).Pack()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var r dns.Msg
	if err := r.Unpack(body); err != nil {
		return nil, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("doh rcode: %s", rcodeString(&r))
	}
	return answers(&r), nil
}
