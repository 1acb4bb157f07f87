package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server-url: https://cloud.example.com/owncloud
client-id: desktop-client-id
scope: files sync
expected-user: admin
auth-dir: /tmp/syncdesk-test
proxy-url: socks5://127.0.0.1:1080
request-timeout-seconds: 5
debug: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerURL != "https://cloud.example.com/owncloud" {
		t.Errorf("server URL = %q", cfg.ServerURL)
	}
	if cfg.ClientID != "desktop-client-id" || cfg.ExpectedUser != "admin" {
		t.Errorf("client/user = %q/%q", cfg.ClientID, cfg.ExpectedUser)
	}
	if cfg.AuthDir != "/tmp/syncdesk-test" {
		t.Errorf("auth dir = %q", cfg.AuthDir)
	}
	if cfg.RequestTimeout() != 5*time.Second {
		t.Errorf("request timeout = %v, want 5s", cfg.RequestTimeout())
	}
	if !cfg.Debug {
		t.Error("debug flag not parsed")
	}
}

func TestLoadConfigDefaultsAuthDir(t *testing.T) {
	path := writeConfig(t, `
server-url: https://cloud.example.com
client-id: desktop-client-id
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AuthDir == "" {
		t.Error("auth dir default was not applied")
	}
	if cfg.RequestTimeout() != 0 {
		t.Errorf("request timeout = %v, want 0 so the flow default applies", cfg.RequestTimeout())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadConfig succeeded for a missing file")
	}
}
