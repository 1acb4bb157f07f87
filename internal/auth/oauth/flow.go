package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRequestTimeout bounds each outstanding network call of the flow.
const DefaultRequestTimeout = 30 * time.Second

// Options configures one login attempt.
type Options struct {
	// ServerURL is the base URL of the server to log in against.
	ServerURL string
	// ClientID identifies this application to the authorization server.
	ClientID string
	// Scope is the optional OAuth scope added to the authorization request.
	Scope string
	// ExpectedUserID, when set, must match the user_id claim on the token
	// reply; a mismatch fails the flow before any identity fetch.
	ExpectedUserID string
	// HTTPClient carries the transport used for all server calls. Callers
	// that configured proxies or cookie jars inject it here.
	HTTPClient *http.Client
	// RequestTimeout bounds each network call. Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Strategy overrides, nil means the HTTP implementations. Tests replace
	// these with deterministic fakes.
	Prober    StatusProber
	Discovery DiscoveryResolver
	Tokens    TokenExchanger
	Identity  IdentityFetcher
}

// Flow coordinates one browser-based login attempt: capability probe,
// endpoint discovery, authorization URL, loopback redirect, token exchange,
// identity verification, and the final answer to the waiting browser.
//
// A Flow is single-use. It emits exactly one authorization URL and exactly
// one terminal Result; a failed attempt must be restarted with a new Flow.
type Flow struct {
	opts Options

	prober    StatusProber
	discovery DiscoveryResolver
	tokens    TokenExchanger
	identity  IdentityFetcher

	mu       sync.Mutex
	state    FlowState
	started  bool
	request  AuthorizationRequest
	listener *RedirectListener

	authURLCh chan string
	resultCh  chan Result
}

// NewFlow validates the options and prepares a login attempt.
func NewFlow(opts Options) (*Flow, error) {
	if strings.TrimSpace(opts.ServerURL) == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	f := &Flow{
		opts:      opts,
		prober:    opts.Prober,
		discovery: opts.Discovery,
		tokens:    opts.Tokens,
		identity:  opts.Identity,
		state:     StateStart,
		authURLCh: make(chan string, 1),
		resultCh:  make(chan Result, 1),
	}
	if f.prober == nil {
		f.prober = &HTTPStatusProber{Client: opts.HTTPClient}
	}
	if f.discovery == nil {
		f.discovery = &HTTPDiscoveryResolver{Client: opts.HTTPClient}
	}
	if f.tokens == nil {
		f.tokens = &HTTPTokenExchanger{Client: opts.HTTPClient}
	}
	if f.identity == nil {
		f.identity = &HTTPIdentityFetcher{Client: opts.HTTPClient}
	}
	return f, nil
}

// Start launches the flow. The authorization URL is delivered on
// AuthorizationURL once the listener is armed; the terminal outcome is
// delivered on Result. Cancelling ctx aborts the attempt.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("login flow already started")
	}
	f.started = true
	f.mu.Unlock()

	go f.run(ctx)
	return nil
}

// AuthorizationURL returns the channel carrying the single browser URL the
// caller should open.
func (f *Flow) AuthorizationURL() <-chan string {
	return f.authURLCh
}

// Result returns the channel carrying the single terminal result.
func (f *Flow) Result() <-chan Result {
	return f.resultCh
}

// State returns the coordinator's current flow state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Request returns the authorization request composed for this attempt. It is
// zero until the listener has been armed.
func (f *Flow) Request() AuthorizationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.request
}

func (f *Flow) setState(next FlowState) {
	f.mu.Lock()
	log.Debugf("login flow: %s -> %s", f.state, next)
	f.state = next
	f.mu.Unlock()
}

// run walks the whole state machine on a single control path. Only this
// goroutine mutates flow state; the listener merely hands over candidate
// redirects.
func (f *Flow) run(ctx context.Context) {
	defer func() {
		f.mu.Lock()
		listener := f.listener
		f.mu.Unlock()
		if listener != nil {
			_ = listener.Close()
		}
	}()

	// The capability probe is the first networked step; a server that does
	// not answer fails the attempt before a browser is ever involved.
	if _, err := f.probe(ctx); err != nil {
		f.fail(nil, wrapAuthError(ErrServerUnreachable, err))
		return
	}

	f.setState(StateDiscoveryPending)
	doc := f.resolveDiscovery(ctx)

	// Discovery decides the flow variant: OIDC-style providers get the
	// numeric loopback host, plain OAuth2 keeps the symbolic one.
	redirectHost := "localhost"
	base := strings.TrimRight(f.opts.ServerURL, "/")
	authEndpoint := base + DefaultAuthorizePath
	tokenEndpoint := base + DefaultTokenPath
	if doc != nil {
		redirectHost = "127.0.0.1"
		authEndpoint = doc.AuthorizationEndpoint
		tokenEndpoint = doc.TokenEndpoint
	}

	nonce, err := GenerateState()
	if err != nil {
		f.fail(nil, err)
		return
	}

	listener := NewRedirectListener(nonce)
	if err = listener.Start(); err != nil {
		f.fail(nil, wrapAuthError(ErrListenerStartFailed, err))
		return
	}

	request := AuthorizationRequest{
		ClientID:    f.opts.ClientID,
		State:       nonce,
		RedirectURI: fmt.Sprintf("http://%s:%d/", redirectHost, listener.Port()),
		Scope:       f.opts.Scope,
	}

	f.mu.Lock()
	f.listener = listener
	f.request = request
	f.mu.Unlock()

	f.setState(StateListenerWaitingForRedirect)
	f.authURLCh <- BuildAuthorizationURL(authEndpoint, request)

	var redirect *Redirect
	select {
	case <-ctx.Done():
		// A redirect may have won the race with cancellation; pick it up so
		// the held browser connection is answered instead of abandoned.
		redirect = drainRedirect(listener)
		f.fail(redirect, ctx.Err())
		return
	case redirect = <-listener.Redirect():
	}
	// The winner is in; tear the listener down, the held connection survives.
	_ = listener.Close()

	f.setState(StateTokenRequested)
	token, err := f.exchange(ctx, tokenEndpoint, request, redirect.Code)
	if err != nil {
		f.fail(redirect, wrapAuthError(ErrCodeExchangeFailed, err))
		return
	}

	if f.opts.ExpectedUserID != "" && token.UserID != f.opts.ExpectedUserID {
		// Wrong account: answer the browser with an authentication error and
		// never touch the identity endpoint.
		f.fail(redirect, wrapAuthError(ErrIdentityMismatch,
			fmt.Errorf("expected user %q, token was issued for %q", f.opts.ExpectedUserID, token.UserID)))
		return
	}

	f.setState(StateIdentityVerifying)
	identity, err := f.fetchIdentity(ctx, token.AccessToken)
	if err != nil {
		f.fail(redirect, wrapAuthError(ErrIdentityFetchFailed, err))
		return
	}

	f.respondSuccess(redirect, token)

	f.setState(StateCompleted)
	f.resultCh <- Result{
		Kind:         ResultLoggedIn,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Identity:     identity,
	}
}

func (f *Flow) probe(ctx context.Context) (*ServerStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()
	return f.prober.Probe(callCtx, f.opts.ServerURL)
}

// resolveDiscovery fetches the well-known document. Failures other than a
// clean not-found are logged and treated as unsupported; plenty of servers
// predate discovery.
func (f *Flow) resolveDiscovery(ctx context.Context) *DiscoveryDocument {
	callCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()
	doc, err := f.discovery.Resolve(callCtx, f.opts.ServerURL)
	if err != nil {
		log.Warnf("endpoint discovery failed, falling back to default endpoints: %v", err)
		return nil
	}
	return doc
}

func (f *Flow) exchange(ctx context.Context, tokenEndpoint string, request AuthorizationRequest, code string) (*TokenResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()
	return f.tokens.Exchange(callCtx, tokenEndpoint, request, code)
}

func (f *Flow) fetchIdentity(ctx context.Context, accessToken string) (*IdentityInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()
	return f.identity.Fetch(callCtx, f.opts.ServerURL, accessToken)
}

// respondSuccess answers the held browser connection. A browser that has
// already gone away only cancels this delivery; the flow result stands.
func (f *Flow) respondSuccess(redirect *Redirect, token *TokenResponse) {
	var err error
	if token.SuccessRedirectTarget != "" {
		err = redirect.RespondRedirect(token.SuccessRedirectTarget)
	} else {
		err = redirect.RespondHTML(LoginSuccessHTML)
	}
	if err != nil {
		if errors.Is(err, ErrBrowserClosed) {
			log.Warn("browser closed before the success response could be delivered")
		} else {
			log.Warnf("failed to answer browser connection: %v", err)
		}
	}
}

// fail answers the browser (when a winning connection is held), records the
// terminal state, and emits the single Error result.
func (f *Flow) fail(redirect *Redirect, cause error) {
	f.mu.Lock()
	failedAt := f.state
	f.mu.Unlock()

	if redirect != nil {
		status := http.StatusInternalServerError
		var authErr *AuthenticationError
		if errors.As(cause, &authErr) {
			status = authErr.Code
		}
		if err := redirect.RespondError(status, "Login failed."); err != nil {
			if errors.Is(err, ErrBrowserClosed) {
				log.Debug("browser closed before the error response could be delivered")
			} else {
				log.Warnf("failed to answer browser connection: %v", err)
			}
		}
	}

	log.Errorf("login flow failed in state %s: %v", failedAt, cause)
	f.setState(StateFailed)
	f.resultCh <- Result{Kind: ResultError, Err: cause, FailedAt: failedAt}
}

// drainRedirect collects a redirect that is already buffered, without waiting
// for one.
func drainRedirect(listener *RedirectListener) *Redirect {
	select {
	case redirect := <-listener.Redirect():
		return redirect
	default:
		return nil
	}
}

// BuildAuthorizationURL composes the browser-facing authorization URL from
// the resolved endpoint and the request parameters.
func BuildAuthorizationURL(authEndpoint string, request AuthorizationRequest) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {request.ClientID},
		"redirect_uri":  {request.RedirectURI},
		"state":         {request.State},
	}
	if request.Scope != "" {
		params.Set("scope", request.Scope)
	}
	return fmt.Sprintf("%s?%s", authEndpoint, params.Encode())
}
