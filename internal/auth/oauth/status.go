package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// StatusProber checks that the server answers at all before the login flow
// commits to opening a browser. It is the first networked step and therefore
// the first place a dead server or a timeout shows up.
type StatusProber interface {
	Probe(ctx context.Context, serverURL string) (*ServerStatus, error)
}

// HTTPStatusProber probes the server's status document over HTTP.
type HTTPStatusProber struct {
	Client *http.Client
}

// Probe fetches and parses the status document.
func (p *HTTPStatusProber) Probe(ctx context.Context, serverURL string) (*ServerStatus, error) {
	endpoint := strings.TrimRight(serverURL, "/") + StatusPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status probe failed with status %d: %s", resp.StatusCode, string(body))
	}

	status := &ServerStatus{
		Installed:   gjson.GetBytes(body, "installed").Bool(),
		Version:     gjson.GetBytes(body, "versionstring").String(),
		ProductName: gjson.GetBytes(body, "productname").String(),
	}
	log.Debugf("server status: product=%q version=%q installed=%v", status.ProductName, status.Version, status.Installed)
	return status, nil
}
