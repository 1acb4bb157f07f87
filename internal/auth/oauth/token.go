package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
)

// TokenExchanger swaps an authorization code for tokens.
type TokenExchanger interface {
	Exchange(ctx context.Context, tokenEndpoint string, req AuthorizationRequest, code string) (*TokenResponse, error)
}

// HTTPTokenExchanger performs the authorization-code grant against the token
// endpoint. The endpoint is used verbatim; with discovery it may live on a
// different host than the server itself.
type HTTPTokenExchanger struct {
	Client *http.Client
}

// Exchange posts the authorization code and parses the JSON token reply.
// A reply without an access token is a hard failure.
func (t *HTTPTokenExchanger) Exchange(ctx context.Context, tokenEndpoint string, authReq AuthorizationRequest, code string) (*TokenResponse, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	data := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {authReq.ClientID},
		"redirect_uri": {authReq.RedirectURI},
	}
	encoded := data.Encode()
	if encoded == "" {
		// The grant is credential-bearing; an empty body is a programming
		// error, not a server condition.
		return nil, fmt.Errorf("token request body must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close token response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response contains no access token")
	}

	return &tokenResp, nil
}
