package verify

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/cockroachdb/errors"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
)

var (
	// ErrNotFound means the resource no longer exists upstream.
	ErrNotFound = errors.New("not found upstream")
	// ErrRateLimited means the upstream asked us to back off.
	ErrRateLimited = errors.New("rate limited by upstream")
	// ErrUpstreamDown means the upstream answered with a server error or
	// its circuit breaker is open.
	ErrUpstreamDown = errors.New("upstream unavailable")
)

// Fetcher retrieves the raw bytes behind a URL.  It must be safe for
// concurrent use by multiple verify workers.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Master fetches documents from the authoritative index.
//
// Transient failures (5xx, 429) are retried with exponential backoff
// before surfacing; 404 is returned immediately as ErrNotFound.  Hosts
// that keep failing trip a per-host circuit breaker so a dead upstream
// does not stall every worker for the full retry budget.
type Master struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	retries uint64
	stopDNS func()

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// NewMaster constructs a Master for the given endpoint.
// timeout bounds a single fetch including all retries.
// Callers must Close the Master when done with it.
func NewMaster(base *url.URL, timeout time.Duration) *Master {
	client, stopDNS := newHTTPClient()
	return &Master{
		base:     base,
		client:   client,
		timeout:  timeout,
		retries:  4,
		stopDNS:  stopDNS,
		breakers: make(map[string]*circuit.Breaker),
	}
}

// Close stops the background DNS cache refresher.  It is safe to call
// more than once.
func (m *Master) Close() {
	m.stopDNS()
}

// MetadataURL returns the metadata document URL for a package.
func (m *Master) MetadataURL(pkg string) string {
	return m.base.ResolveReference(&url.URL{Path: "pypi/" + pkg + "/json"}).String()
}

// Fetch retrieves the document at rawurl.
func (m *Master) Fetch(ctx context.Context, rawurl string) ([]byte, error) {
	breaker := m.getBreaker(hostOf(rawurl))
	if !breaker.Ready() {
		return nil, errors.Wrap(ErrUpstreamDown, "circuit breaker open for "+hostOf(rawurl))
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var body []byte
	err := breaker.Call(func() error {
		op := func() error {
			var err error
			body, err = m.doFetch(ctx, rawurl)
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), m.retries), ctx)
		return backoff.Retry(op, b)
	}, 0)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (m *Master) doFetch(ctx context.Context, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, errors.Wrap(err, "doFetch")
	}
	req.Header.Set("User-Agent", "bandersnatch-verify/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, rawurl)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, rawurl)
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrap(ErrNotFound, rawurl)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Wrap(ErrRateLimited, rawurl)
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(ErrUpstreamDown, "%s: status %d", rawurl, resp.StatusCode)
	default:
		return nil, errors.Newf("unexpected status %d for %s", resp.StatusCode, rawurl)
	}
}

func (m *Master) getBreaker(host string) *circuit.Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, ok := m.breakers[host]; ok {
		return breaker
	}

	// Trips after 5 consecutive failures.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Reset()

	breaker := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	m.breakers[host] = breaker
	return breaker
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // bounded by the per-call context
	return b
}

func hostOf(rawurl string) string {
	parsed, err := url.Parse(rawurl)
	if err != nil || parsed.Host == "" {
		return rawurl
	}
	return parsed.Host
}

// newHTTPClient builds an HTTP client with pooled connections and a
// DNS-caching dialer.  Request deadlines come from the per-call context,
// not the client.  The returned stop function terminates the background
// cache refresher.
func newHTTPClient() (*http.Client, func()) {
	resolver := &dnscache.Resolver{}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-done:
				return
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second
	tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
		}
		return nil, errors.New("failed to dial any resolved IP for " + host)
	}

	client := &http.Client{
		Transport: tr,
		Timeout:   0, // timeout is controlled by context
	}
	return client, sync.OnceFunc(func() { close(done) })
}
