package lark

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// tenantTokenSlack refreshes the tenant token this long before its
// advertised expiry.
const tenantTokenSlack = 5 * time.Minute

// callbackPort is the default localhost port for the OAuth redirect.
// It must match the redirect URI registered with the app.
const callbackPort = 8899

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// Auth owns authentication state: app credentials, the cached tenant token,
// and the user token pair. It implements TokenSource: the user token is
// preferred when present, else the tenant token. Refresh first attempts the
// refresh-token grant; if that fails it falls back to the full browser flow.
type Auth struct {
	appID      string
	appSecret  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	userAccess   string
	userRefresh  string
	tenantToken  string
	tenantExpiry time.Time

	// onTokenChange persists a new user token pair (e.g. back into the
	// config file). Called outside the mutex. May be nil.
	onTokenChange func(access, refresh string)

	// openURL launches the user's browser for the authorization flow.
	// May be nil, in which case the URL is printed to stderr.
	openURL func(url string) error
}

// AuthOptions configures a new Auth.
type AuthOptions struct {
	AppID            string
	AppSecret        string
	UserAccessToken  string
	UserRefreshToken string
	BaseURL          string
	HTTPClient       *http.Client
	OnTokenChange    func(access, refresh string)
	OpenURL          func(url string) error
	Logger           *slog.Logger
}

// NewAuth creates the authentication manager.
func NewAuth(opts AuthOptions) *Auth {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Auth{
		appID:         opts.AppID,
		appSecret:     opts.AppSecret,
		baseURL:       baseURL,
		httpClient:    httpClient,
		logger:        logger,
		userAccess:    opts.UserAccessToken,
		userRefresh:   opts.UserRefreshToken,
		onTokenChange: opts.OnTokenChange,
		openURL:       opts.OpenURL,
	}
}

// Token returns the user access token when one is configured, else a valid
// tenant token (fetching one if needed).
func (a *Auth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()

	if a.userAccess != "" {
		tok := a.userAccess
		a.mu.Unlock()

		return tok, nil
	}

	if a.tenantToken != "" && time.Now().Before(a.tenantExpiry) {
		tok := a.tenantToken
		a.mu.Unlock()

		return tok, nil
	}

	a.mu.Unlock()

	return a.fetchTenantToken(ctx)
}

// Refresh renews the active credential after the API signals expiry.
// For user tokens: refresh-token grant, then full browser login as fallback.
// For tenant tokens: drop the cache so the next Token call re-fetches.
func (a *Auth) Refresh(ctx context.Context) error {
	a.mu.Lock()
	hasUser := a.userAccess != "" || a.userRefresh != ""
	refresh := a.userRefresh
	a.mu.Unlock()

	if !hasUser {
		a.mu.Lock()
		a.tenantToken = ""
		a.mu.Unlock()

		_, err := a.fetchTenantToken(ctx)

		return err
	}

	if refresh != "" {
		err := a.refreshUserToken(ctx, refresh)
		if err == nil {
			return nil
		}

		a.logger.Warn("refresh token grant failed, falling back to browser login",
			slog.String("error", err.Error()),
		)
	}

	return a.Login(ctx)
}

// HasUserToken reports whether a user access token is configured.
func (a *Auth) HasUserToken() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.userAccess != ""
}

type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// fetchTenantToken exchanges app credentials for a tenant access token.
func (a *Auth) fetchTenantToken(ctx context.Context) (string, error) {
	a.logger.Debug("fetching tenant access token")

	body, err := json.Marshal(map[string]string{
		"app_id":     a.appID,
		"app_secret": a.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("lark: marshaling tenant token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("lark: creating tenant token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lark: tenant token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("lark: reading tenant token response: %w", err)
	}

	var ttr tenantTokenResponse
	if err := json.Unmarshal(raw, &ttr); err != nil {
		return "", fmt.Errorf("lark: decoding tenant token response: %w", err)
	}

	if ttr.Code != codeOK {
		return "", &APIError{Code: ttr.Code, HTTPStatus: resp.StatusCode, Msg: ttr.Msg, Err: classifyCode(ttr.Code, resp.StatusCode)}
	}

	a.mu.Lock()
	a.tenantToken = ttr.TenantAccessToken
	a.tenantExpiry = time.Now().Add(time.Duration(ttr.Expire)*time.Second - tenantTokenSlack)
	a.mu.Unlock()

	a.logger.Info("tenant access token obtained",
		slog.Int("expire_seconds", ttr.Expire),
	)

	return ttr.TenantAccessToken, nil
}

// oauthConfig builds the oauth2.Config for the user authorization flow.
func (a *Auth) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.appID,
		ClientSecret: a.appSecret,
		RedirectURL:  fmt.Sprintf("http://localhost:%d/callback", callbackPort),
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.baseURL + "/open-apis/authen/v1/authorize",
			TokenURL: a.baseURL + "/open-apis/authen/v2/oauth/token",
		},
	}
}

// refreshUserToken performs the refresh-token grant and stores the new pair.
func (a *Auth) refreshUserToken(ctx context.Context, refreshToken string) error {
	a.logger.Info("refreshing user access token")

	cfg := a.oauthConfig()

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return fmt.Errorf("lark: refresh token grant: %w", err)
	}

	a.storeUserToken(tok)

	return nil
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// Login runs the full browser authorization-code flow:
//  1. Binds the localhost callback server on the registered port
//  2. Opens the browser to the authorization endpoint
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for an access/refresh token pair
//  5. Persists the pair via the onTokenChange callback
func (a *Auth) Login(ctx context.Context) error {
	a.logger.Info("starting browser auth flow")

	cfg := a.oauthConfig()

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("lark: generating state token: %w", err)
	}

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	srv, err := startCallbackServer(ctx, mux, a.logger)
	if err != nil {
		return err
	}

	defer shutdownCallbackServer(srv, a.logger)

	authURL := cfg.AuthCodeURL(state)
	a.launchBrowser(authURL)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return err
	}

	a.logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("lark: token exchange failed: %w", err)
	}

	a.storeUserToken(tok)
	a.logger.Info("browser login successful", slog.Time("expiry", tok.Expiry))

	return nil
}

// storeUserToken updates the in-memory pair and notifies the persistence
// callback outside the mutex.
func (a *Auth) storeUserToken(tok *oauth2.Token) {
	a.mu.Lock()
	a.userAccess = tok.AccessToken

	if tok.RefreshToken != "" {
		a.userRefresh = tok.RefreshToken
	}

	refresh := a.userRefresh
	a.mu.Unlock()

	if a.onTokenChange != nil {
		a.onTokenChange(tok.AccessToken, refresh)
	}
}

// startCallbackServer binds the fixed callback port and starts serving.
func startCallbackServer(ctx context.Context, mux *http.ServeMux, logger *slog.Logger) (*http.Server, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", callbackPort))
	if err != nil {
		return nil, fmt.Errorf("lark: binding callback listener: %w", err)
	}

	logger.Info("callback server listening", slog.Int("port", callbackPort))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("callback server error", slog.String("error", serveErr.Error()))
		}
	}()

	return srv, nil
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	// Validate state to prevent CSRF.
	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("lark: OAuth2 state mismatch (possible CSRF)")}

		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("lark: authorization failed: %s", errParam)}

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("lark: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL, printing it to stderr as a
// fallback so the user can copy-paste it.
func (a *Auth) launchBrowser(authURL string) {
	a.logger.Info("opening browser for authorization")

	if a.openURL != nil {
		if err := a.openURL(authURL); err == nil {
			return
		}

		a.logger.Warn("failed to open browser, printing URL")
	}

	fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("lark: browser auth canceled: %w", ctx.Err())
	}
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
