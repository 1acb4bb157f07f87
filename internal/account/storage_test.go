package account

import (
	"path/filepath"
	"testing"
)

func TestCredentialStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "admin-server.example.json")

	saved := &CredentialStorage{
		AccessToken:  "123",
		RefreshToken: "456",
		TokenType:    "Bearer",
		UserID:       "admin",
		DisplayName:  "Admin",
		Email:        "admin@admin.admin",
		ServerURL:    "https://server.example/owncloud",
	}
	if err := saved.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.AccessToken != "123" || loaded.RefreshToken != "456" {
		t.Errorf("tokens = %q/%q, want 123/456", loaded.AccessToken, loaded.RefreshToken)
	}
	if loaded.UserID != "admin" || loaded.Email != "admin@admin.admin" {
		t.Errorf("identity = %q/%q", loaded.UserID, loaded.Email)
	}
	if loaded.Type != "oauth2" {
		t.Errorf("type = %q, want oauth2", loaded.Type)
	}
	if loaded.LastLogin == "" {
		t.Error("last login timestamp was not stamped")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("LoadFromFile succeeded for a missing file")
	}
}

func TestAuthFileName(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		userID    string
		expected  string
	}{
		{"host and user", "https://cloud.example.com/owncloud", "admin", "admin-cloud.example.com.json"},
		{"host only", "https://cloud.example.com", "", "cloud.example.com.json"},
		{"port kept", "http://localhost:8080", "jane", "jane-localhost_8080.json"},
		{"unsafe characters", "https://cloud.example.com", "user/../../etc", "user_.._.._etc-cloud.example.com.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AuthFileName(tt.serverURL, tt.userID); got != tt.expected {
				t.Errorf("AuthFileName = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNewAccount(t *testing.T) {
	a := New("https://cloud.example.com/owncloud/")
	if a.ID == "" {
		t.Error("account ID was not generated")
	}
	if a.ServerURL != "https://cloud.example.com/owncloud" {
		t.Errorf("server URL = %q, trailing slash should be trimmed", a.ServerURL)
	}
	if b := New("https://cloud.example.com/owncloud/"); b.ID == a.ID {
		t.Error("two accounts share the same ID")
	}
}
