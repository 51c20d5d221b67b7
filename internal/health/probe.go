package health

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// probeTimeout bounds the healthcheck round-trip so a wedged server cannot
// hang the probing process.
const probeTimeout = 1 * time.Second

// HTTPClient abstracts the probe's HTTP operations for testability. Use
// http.Client in production.
type HTTPClient interface {
	Get(url string) (*http.Response, error)
}

// Prober performs a local health probe against a running instance. It backs
// the healthcheck command used as a container health check.
type Prober struct {
	client HTTPClient
}

// NewProber builds a probe. A nil client gets a default client with the
// probe timeout applied.
func NewProber(client HTTPClient) *Prober {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Prober{client: client}
}

// Probe issues a GET against the endpoint on the local instance and reports
// whether it answered healthy. Any transport error or non-200 status is a
// failure.
func (p *Prober) Probe(port int, endpoint string) error {
	url := fmt.Sprintf("http://localhost:%d%s", port, normalizeEndpoint(endpoint))

	resp, err := p.client.Get(url)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// normalizeEndpoint ensures the endpoint has a single leading slash so both
// "readyz" and "/readyz" work on the command line.
func normalizeEndpoint(endpoint string) string {
	if endpoint == "" {
		return EndpointReadiness
	}
	return "/" + strings.TrimLeft(endpoint, "/")
}
