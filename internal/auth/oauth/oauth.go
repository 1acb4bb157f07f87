// Package oauth implements the browser-based OAuth2/OIDC authorization-code
// login flow used to sign a desktop client into a remote server. It drives the
// user through browser sign-in, receives the redirect back on a local loopback
// listener, exchanges the authorization code for tokens, and verifies the
// resulting identity against the expected account.
package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Default endpoint paths used when the server publishes no discovery document.
const (
	DefaultAuthorizePath = "/index.php/apps/oauth2/authorize"
	DefaultTokenPath     = "/index.php/apps/oauth2/api/v1/token"
	StatusPath           = "/status.php"
	WellKnownPath        = "/.well-known/openid-configuration"
	UserInfoPath         = "/ocs/v2.php/cloud/user"
)

// FlowState tracks the coordinator's position in the login flow.
// It is owned and mutated exclusively by the Flow on its control path.
type FlowState int

const (
	// StateStart is the initial state, before any network activity succeeded.
	StateStart FlowState = iota
	// StateDiscoveryPending means the capability probe succeeded and the
	// well-known discovery document is being fetched.
	StateDiscoveryPending
	// StateListenerWaitingForRedirect means the authorization URL has been
	// emitted and the loopback listener is waiting for the browser redirect.
	StateListenerWaitingForRedirect
	// StateTokenRequested means a state-matching redirect arrived and the
	// authorization code is being exchanged for tokens.
	StateTokenRequested
	// StateIdentityVerifying means token exchange succeeded and the user
	// profile is being fetched.
	StateIdentityVerifying
	// StateCompleted is the terminal success state.
	StateCompleted
	// StateFailed is the terminal failure state.
	StateFailed
)

// String returns a human-readable name for the flow state.
func (s FlowState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateDiscoveryPending:
		return "discovery-pending"
	case StateListenerWaitingForRedirect:
		return "waiting-for-redirect"
	case StateTokenRequested:
		return "token-requested"
	case StateIdentityVerifying:
		return "identity-verifying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ResultKind tags the terminal outcome delivered to the caller.
type ResultKind int

const (
	// ResultLoggedIn indicates the flow completed and tokens were obtained.
	ResultLoggedIn ResultKind = iota
	// ResultError indicates the flow failed; no tokens are available.
	ResultError
)

// Result is the single terminal artifact of one login attempt.
type Result struct {
	// Kind tags the outcome.
	Kind ResultKind
	// AccessToken is the OAuth2 access token, set only for ResultLoggedIn.
	AccessToken string
	// RefreshToken is the OAuth2 refresh token, set only for ResultLoggedIn.
	RefreshToken string
	// Identity describes the authenticated user when it could be fetched.
	Identity *IdentityInfo
	// Err carries the failure cause for ResultError.
	Err error
	// FailedAt records the flow state the failure occurred in. A failure in
	// StateStart means the flow never got past the capability probe and no
	// authorization URL was ever emitted.
	FailedAt FlowState
}

// AuthorizationRequest holds the parameters composed into the browser-facing
// authorization URL. State is generated once per attempt and compared by exact
// match against the redirect.
type AuthorizationRequest struct {
	ClientID    string
	State       string
	RedirectURI string
	Scope       string
}

// DiscoveryDocument describes the endpoints advertised by a well-known
// openid-configuration document. A nil document means the server predates
// discovery support and default endpoint paths apply.
type DiscoveryDocument struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	TokenAuthMethods      []string
}

// TokenResponse is the parsed reply of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// UserID is the identity claim some servers attach to the token reply.
	UserID string `json:"user_id"`
	// SuccessRedirectTarget is the URL the browser is sent to on completion,
	// typically an application-scheme link.
	SuccessRedirectTarget string `json:"message_url"`
}

// IdentityInfo is the authenticated user's profile fetched after a successful
// token exchange.
type IdentityInfo struct {
	UserID      string
	DisplayName string
	Email       string
}

// ServerStatus is the parsed capability probe reply.
type ServerStatus struct {
	Installed   bool
	Version     string
	ProductName string
}

// GenerateState generates a cryptographically secure random state parameter
// for the authorization request to prevent CSRF on the redirect endpoint.
func GenerateState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
