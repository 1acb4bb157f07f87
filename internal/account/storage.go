package account

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// CredentialStorage stores the OAuth2 credentials obtained by a login flow.
// It is serialized to a JSON auth file under the configured auth directory.
type CredentialStorage struct {
	// AccessToken is the OAuth2 access token used for authenticating requests.
	AccessToken string `json:"access_token"`

	// RefreshToken is used to obtain new access tokens when the current one expires.
	RefreshToken string `json:"refresh_token"`

	// TokenType is the token type reported by the server, typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// UserID is the server-side user the credentials belong to.
	UserID string `json:"user_id"`

	// DisplayName is the user's display name at login time.
	DisplayName string `json:"display_name,omitempty"`

	// Email is the user's email address at login time.
	Email string `json:"email,omitempty"`

	// ServerURL is the server the credentials were issued by.
	ServerURL string `json:"server_url"`

	// LastLogin is the timestamp of the login that produced these credentials.
	LastLogin string `json:"last_login"`

	// Type indicates the credential kind, always "oauth2" for this storage.
	Type string `json:"type"`
}

// SaveToFile serializes the credential storage to a JSON file, creating the
// directory structure with owner-only permissions first.
func (cs *CredentialStorage) SaveToFile(authFilePath string) error {
	log.Debugf("saving credentials to %s", authFilePath)
	cs.Type = "oauth2"
	if cs.LastLogin == "" {
		cs.LastLogin = time.Now().Format(time.RFC3339)
	}

	if err := os.MkdirAll(filepath.Dir(authFilePath), 0700); err != nil {
		return fmt.Errorf("failed to create auth directory: %w", err)
	}

	f, err := os.OpenFile(authFilePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create auth file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err = json.NewEncoder(f).Encode(cs); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// LoadFromFile reads a previously saved credential storage.
func LoadFromFile(authFilePath string) (*CredentialStorage, error) {
	data, err := os.ReadFile(authFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}
	var cs CredentialStorage
	if err = json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("failed to parse auth file: %w", err)
	}
	return &cs, nil
}

// AuthFileName derives a stable auth file name from the server host and user.
func AuthFileName(serverURL, userID string) string {
	host := serverURL
	if u, err := url.Parse(serverURL); err == nil && u.Host != "" {
		host = u.Host
	}
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			case r == '.' || r == '-' || r == '_':
				return r
			default:
				return '_'
			}
		}, s)
	}
	if userID == "" {
		return fmt.Sprintf("%s.json", sanitize(host))
	}
	return fmt.Sprintf("%s-%s.json", sanitize(userID), sanitize(host))
}
