package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HealthResult is the cached outcome of the last reachability probe.
type HealthResult struct {
	Healthy    bool
	StatusCode int
	Err        error
	CheckedAt  time.Time
}

// healthProber performs rate-limited, non-blocking HTTP probes.
type healthProber struct {
	url         string
	minFailures int
	timeout     time.Duration
	client      *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	onResult    func(HealthResult)

	mu       sync.Mutex
	last     HealthResult
	inflight bool
	wg       sync.WaitGroup
}

func newHealthProber(cfg Config, client *http.Client, logger *slog.Logger, onResult func(HealthResult)) *healthProber {
	if client == nil {
		client = &http.Client{}
	}
	return &healthProber{
		url:         cfg.HealthURL,
		minFailures: cfg.HealthCheckMinFailures,
		timeout:     cfg.HealthCheckTimeout,
		client:      client,
		limiter:     rate.NewLimiter(rate.Every(cfg.HealthCheckInterval), 1),
		logger:      logger,
		onResult:    onResult,
	}
}

// maybeProbe starts a probe in the background when failures have reached the
// threshold, no probe is running and the limiter allows one. It reports
// whether a probe was started.
func (p *healthProber) maybeProbe(ctx context.Context, failures int) bool {
	if p.url == "" || failures < p.minFailures {
		return false
	}

	p.mu.Lock()
	if p.inflight || !p.limiter.Allow() {
		p.mu.Unlock()
		return false
	}
	p.inflight = true
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		res := p.probe(ctx)

		p.mu.Lock()
		p.last = res
		p.inflight = false
		p.mu.Unlock()

		if res.Healthy {
			p.logger.Info("health probe ok, relay reachable", "url", p.url, "failures", failures)
		} else {
			p.logger.Warn("health probe failed", "url", p.url, "failures", failures, "status", res.StatusCode, "error", res.Err)
		}
		if p.onResult != nil {
			p.onResult(res)
		}
	}()
	return true
}

func (p *healthProber) probe(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res := HealthResult{CheckedAt: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}

	resp, err := p.client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !res.Healthy {
		res.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return res
}

// Last returns the cached result.
func (p *healthProber) Last() HealthResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// wait blocks until any running probe has finished.
func (p *healthProber) wait() {
	p.wg.Wait()
}
