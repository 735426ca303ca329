// Package health evaluates readiness of the portal's dependencies: the
// collaboration server in connected deployments, and the mounted schema and
// mock result files.
package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

// Result captures the outcome of one probe.
type Result struct {
	Name       string    `json:"name"`
	Healthy    bool      `json:"healthy"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Report aggregates readiness across probes.
type Report struct {
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checkedAt"`
	Checks    []Result  `json:"checks"`
}

// Probe is a single readiness dependency.
type Probe interface {
	Run(ctx context.Context) Result
}

// HTTPProbe checks that an HTTP dependency answers its health endpoint.
type HTTPProbe struct {
	Name      string
	BaseURL   string
	Path      string
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
}

// Run performs the HTTP check.
func (p HTTPProbe) Run(ctx context.Context) Result {
	result := Result{Name: p.Name, CheckedAt: time.Now().UTC()}

	targetURL, err := url.JoinPath(p.BaseURL, p.Path)
	if err != nil {
		result.Error = fmt.Sprintf("failed to build probe url: %v", err)
		return result
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		select {
		case <-reqCtx.Done():
			result.Error = reqCtx.Err().Error()
		default:
			result.Error = err.Error()
		}
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Healthy {
		result.Error = fmt.Sprintf("probe failed with status %d", resp.StatusCode)
	}
	return result
}

// FileProbe checks that a required file exists and is a regular file.
type FileProbe struct {
	Name string
	Path string
}

// Run performs the file check.
func (p FileProbe) Run(_ context.Context) Result {
	result := Result{Name: p.Name, CheckedAt: time.Now().UTC()}

	info, err := os.Stat(p.Path)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if info.IsDir() {
		result.Error = fmt.Sprintf("%s is a directory", p.Path)
		return result
	}
	result.Healthy = true
	return result
}

// Checker runs the configured probes concurrently.
type Checker struct {
	probes []Probe
}

// NewChecker returns a checker over the given probes.
func NewChecker(probes ...Probe) *Checker {
	return &Checker{probes: probes}
}

// Readiness runs all probes and aggregates a report. With no probes
// configured the portal is trivially ready.
func (c *Checker) Readiness(ctx context.Context) Report {
	if c == nil || len(c.probes) == 0 {
		return Report{Status: "ready", CheckedAt: time.Now().UTC()}
	}

	results := make([]Result, len(c.probes))
	var wg sync.WaitGroup

	for idx, probe := range c.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			results[i] = p.Run(ctx)
		}(idx, probe)
	}

	wg.Wait()

	report := Report{
		CheckedAt: time.Now().UTC(),
		Checks:    results,
	}

	report.Status = "ready"
	for _, r := range results {
		if !r.Healthy {
			report.Status = "degraded"
			break
		}
	}

	return report
}
