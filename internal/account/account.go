// Package account holds the client-side account record and the credential
// storage written after a successful login. The login flow itself stays
// storage-free; callers persist its result through this package.
package account

import (
	"strings"

	"github.com/google/uuid"
)

// Account identifies one configured server account on this machine.
type Account struct {
	// ID is a locally generated unique identifier for the account.
	ID string `json:"id"`
	// ServerURL is the base URL of the server the account belongs to.
	ServerURL string `json:"server_url"`
	// UserID is the server-side user the account is bound to. Empty until
	// the first login determines it.
	UserID string `json:"user_id,omitempty"`
	// DisplayName is the user's display name as reported by the server.
	DisplayName string `json:"display_name,omitempty"`
	// Email is the user's email address as reported by the server.
	Email string `json:"email,omitempty"`
}

// New creates an account record for the given server with a fresh ID.
func New(serverURL string) *Account {
	return &Account{
		ID:        uuid.NewString(),
		ServerURL: strings.TrimRight(serverURL, "/"),
	}
}
