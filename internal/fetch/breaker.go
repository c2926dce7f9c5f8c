package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// BreakerFetcher wraps a Getter with one circuit breaker per upstream host.
type BreakerFetcher struct {
	getter    Getter
	threshold int64
	breakers  map[string]*circuit.Breaker
	mu        sync.RWMutex
}

// NewBreakerFetcher wraps g. The breaker for a host trips after threshold
// consecutive failures; a threshold <= 0 uses 5.
func NewBreakerFetcher(g Getter, threshold int64) *BreakerFetcher {
	if threshold <= 0 {
		threshold = 5
	}
	return &BreakerFetcher{
		getter:    g,
		threshold: threshold,
		breakers:  make(map[string]*circuit.Breaker),
	}
}

func (b *BreakerFetcher) breaker(host string) *circuit.Breaker {
	b.mu.RLock()
	br, ok := b.breakers[host]
	b.mu.RUnlock()
	if ok {
		return br
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.breakers[host]; ok {
		return br
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	br = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(b.threshold),
	})
	b.breakers[host] = br
	return br
}

// Get performs the request unless the host's breaker is open. A 404 is
// returned to the caller but does not count as a breaker failure.
func (b *BreakerFetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	host := hostOf(rawURL)
	br := b.breaker(host)

	if !br.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var (
		resp     *Response
		notFound error
	)
	err := br.Call(func() error {
		r, err := b.getter.Get(ctx, rawURL)
		if errors.Is(err, ErrNotFound) {
			notFound = err
			return nil
		}
		resp = r
		return err
	}, 0)
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return resp, nil
}

// GetJSON fetches url and decodes the JSON body into v.
func (b *BreakerFetcher) GetJSON(ctx context.Context, url string, v any) error {
	return GetJSON(ctx, b, url, v)
}

// States reports "open" or "closed" per host, for health output.
func (b *BreakerFetcher) States() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make(map[string]string, len(b.breakers))
	for host, br := range b.breakers {
		if br.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
