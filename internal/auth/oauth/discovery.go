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

// DiscoveryResolver fetches the well-known openid-configuration document.
// A nil document with a nil error means the server does not support discovery.
type DiscoveryResolver interface {
	Resolve(ctx context.Context, serverURL string) (*DiscoveryDocument, error)
}

// HTTPDiscoveryResolver resolves discovery documents over HTTP.
type HTTPDiscoveryResolver struct {
	Client *http.Client
}

// Resolve performs a single GET to the well-known discovery path. Any
// not-found-class status means discovery is unsupported, which is not an
// error. Other failures are surfaced so the caller can decide; the coordinator
// treats them the same as unsupported since many servers predate discovery.
func (r *HTTPDiscoveryResolver) Resolve(ctx context.Context, serverURL string) (*DiscoveryDocument, error) {
	endpoint := strings.TrimRight(serverURL, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		log.Debugf("server does not publish %s, using default endpoints", WellKnownPath)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery failed with status %d: %s", resp.StatusCode, string(body))
	}

	authEndpoint := gjson.GetBytes(body, "authorization_endpoint")
	tokenEndpoint := gjson.GetBytes(body, "token_endpoint")
	if !authEndpoint.Exists() || !tokenEndpoint.Exists() {
		return nil, fmt.Errorf("discovery document is missing endpoint fields")
	}

	doc := &DiscoveryDocument{
		AuthorizationEndpoint: authEndpoint.String(),
		TokenEndpoint:         tokenEndpoint.String(),
	}
	for _, method := range gjson.GetBytes(body, "token_endpoint_auth_methods_supported").Array() {
		doc.TokenAuthMethods = append(doc.TokenAuthMethods, method.String())
	}

	log.Debugf("discovered endpoints: authorize=%s token=%s", doc.AuthorizationEndpoint, doc.TokenEndpoint)
	return doc, nil
}
