// Package main provides the entry point for the syncdesk login tool.
// It drives the browser-based OAuth2/OIDC login flow against a configured
// server and persists the resulting credentials for the sync client.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/syncdesk/syncdesk/internal/account"
	"github.com/syncdesk/syncdesk/internal/auth/oauth"
	"github.com/syncdesk/syncdesk/internal/browser"
	"github.com/syncdesk/syncdesk/internal/config"
	"github.com/syncdesk/syncdesk/internal/logging"
	"github.com/syncdesk/syncdesk/internal/util"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

// main parses command-line flags, loads configuration, runs the login flow,
// and persists the obtained credentials.
func main() {
	fmt.Printf("syncdesk Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var configPath string
	var serverURL string
	var expectedUser string
	var noBrowser bool
	var debug bool

	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.StringVar(&serverURL, "server", "", "Server base URL (overrides the configuration)")
	flag.StringVar(&expectedUser, "user", "", "Expected user ID; tokens for any other user are rejected")
	flag.BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	// Load optional environment overrides before reading the config file.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if expectedUser != "" {
		cfg.ExpectedUser = expectedUser
	}

	logging.SetDebug(cfg.Debug || debug)
	logging.SetLogFile(cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := util.SetProxy(cfg, &http.Client{})

	flow, err := oauth.NewFlow(oauth.Options{
		ServerURL:      cfg.ServerURL,
		ClientID:       cfg.ClientID,
		Scope:          cfg.Scope,
		ExpectedUserID: cfg.ExpectedUser,
		HTTPClient:     httpClient,
		RequestTimeout: cfg.RequestTimeout(),
	})
	if err != nil {
		log.Fatalf("failed to prepare login flow: %v", err)
	}
	if err = flow.Start(ctx); err != nil {
		log.Fatalf("failed to start login flow: %v", err)
	}

	select {
	case <-ctx.Done():
		log.Fatal("login aborted before the authorization URL was ready")
	case authURL := <-flow.AuthorizationURL():
		fmt.Printf("Please authorize this client in your browser:\n\n  %s\n\n", authURL)
		if !noBrowser && browser.IsAvailable() {
			if errOpen := browser.OpenURL(authURL); errOpen != nil {
				log.Warnf("failed to open browser, please open the URL manually: %v", errOpen)
			}
		}
	}

	result := <-flow.Result()
	if result.Kind != oauth.ResultLoggedIn {
		log.Fatalf("login failed: %v", result.Err)
	}

	acct := account.New(cfg.ServerURL)
	storage := &account.CredentialStorage{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ServerURL:    acct.ServerURL,
		LastLogin:    time.Now().Format(time.RFC3339),
	}
	if result.Identity != nil {
		acct.UserID = result.Identity.UserID
		acct.DisplayName = result.Identity.DisplayName
		acct.Email = result.Identity.Email
		storage.UserID = result.Identity.UserID
		storage.DisplayName = result.Identity.DisplayName
		storage.Email = result.Identity.Email
	}

	authFilePath := filepath.Join(cfg.AuthDir, account.AuthFileName(cfg.ServerURL, storage.UserID))
	if err = storage.SaveToFile(authFilePath); err != nil {
		log.Fatalf("failed to save credentials: %v", err)
	}

	if storage.UserID != "" {
		fmt.Printf("Logged in as %s. Credentials saved to %s\n", storage.UserID, authFilePath)
	} else {
		fmt.Printf("Logged in. Credentials saved to %s\n", authFilePath)
	}
}
