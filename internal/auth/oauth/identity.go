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

// IdentityFetcher loads the authenticated user's profile from the server.
type IdentityFetcher interface {
	Fetch(ctx context.Context, serverURL, accessToken string) (*IdentityInfo, error)
}

// HTTPIdentityFetcher fetches the user profile from the OCS user endpoint.
// It only enriches the stored identity; the user_id claim on the token reply
// is what gates the flow.
type HTTPIdentityFetcher struct {
	Client *http.Client
}

// Fetch performs one GET against the identity endpoint and extracts the
// nested profile fields.
func (f *HTTPIdentityFetcher) Fetch(ctx context.Context, serverURL, accessToken string) (*IdentityInfo, error) {
	endpoint := strings.TrimRight(serverURL, "/") + UserInfoPath + "?format=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("OCS-APIRequest", "true")
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	data := gjson.GetBytes(body, "ocs.data")
	if !data.Exists() {
		return nil, fmt.Errorf("identity response contains no user data")
	}

	info := &IdentityInfo{
		UserID:      data.Get("id").String(),
		DisplayName: data.Get("display-name").String(),
		Email:       data.Get("email").String(),
	}
	log.Debugf("fetched identity for user %q", info.UserID)
	return info, nil
}
