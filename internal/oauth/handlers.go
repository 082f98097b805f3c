package oauth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/scholarmcp/scholarmcp/internal/metrics"
	"github.com/scholarmcp/scholarmcp/internal/wellknown"
)

// Handler serves the authorization server's HTTP surface: discovery,
// dynamic registration, the auto-approving authorize endpoint, and
// token exchange.
type Handler struct {
	store   *Store
	log     *slog.Logger
	met     *metrics.Metrics
	baseURL string
	limiter *ipRateLimiter
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger used by the endpoint handlers.
func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

// WithHandlerMetrics sets the instrument set for flow events.
func WithHandlerMetrics(met *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.met = met }
}

// NewHandler builds the endpoint handlers on top of the store. baseURL
// is the externally visible origin used in discovery documents and
// redirect construction (no trailing slash).
func NewHandler(store *Store, baseURL string, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:   store,
		log:     slog.Default(),
		met:     metrics.Noop(),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		limiter: newIPRateLimiter(registerRatePerMinute),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register binds the OAuth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.handleProtectedResourceMetadata)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.handleAuthServerMetadata)
	mux.HandleFunc("POST /register", h.handleRegister)
	mux.HandleFunc("GET /authorize", h.handleAuthorize)
	mux.HandleFunc("POST /token", h.handleToken)
}

// ProtectedResourceMetadataURL is the absolute URL of the RFC 9728
// document, advertised in WWW-Authenticate challenges.
func (h *Handler) ProtectedResourceMetadataURL() string {
	return h.baseURL + "/.well-known/oauth-protected-resource"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// oauthError is the RFC 6749 §5.2 error body.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (h *Handler) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wellknown.ProtectedResourceMetadata{
		Resource:               h.baseURL,
		AuthorizationServers:   []string{h.baseURL},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        []string{DefaultScope},
	})
}

func (h *Handler) handleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wellknown.AuthServerMetadata{
		Issuer:                            h.baseURL,
		AuthorizationEndpoint:             h.baseURL + "/authorize",
		TokenEndpoint:                     h.baseURL + "/token",
		RegistrationEndpoint:              h.baseURL + "/register",
		ScopesSupported:                   []string{DefaultScope},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	})
}

// registerRequest is the RFC 7591 registration body. Only the fields
// the server acts on are decoded.
type registerRequest struct {
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.limiter.Allow(remoteIP(r)) {
		h.log.WarnContext(ctx, "oauth.register.ratelimited", slog.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusTooManyRequests, oauthError{
			Error:            "invalid_client_metadata",
			ErrorDescription: "registration rate limit exceeded",
		})
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, oauthError{
			Error:            "invalid_client_metadata",
			ErrorDescription: "request body must be a JSON object",
		})
		return
	}
	if len(req.RedirectURIs) == 0 {
		writeJSON(w, http.StatusBadRequest, oauthError{
			Error:            "invalid_client_metadata",
			ErrorDescription: "redirect_uris is required",
		})
		return
	}

	client := h.store.RegisterClient(ctx, req.ClientName, req.RedirectURIs)

	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                  client.ClientID,
		"client_name":                client.ClientName,
		"redirect_uris":              client.RedirectURIs,
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "none",
	})
}

// handleAuthorize validates the request and auto-approves: this is a
// single-operator deployment already gated by the server secret, so no
// interactive consent is shown. Validation failures return 400 and
// never redirect, so codes cannot leak to unverified URIs.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	codeChallenge := q.Get("code_challenge")

	switch {
	case clientID == "":
		http.Error(w, "Missing client_id", http.StatusBadRequest)
		return
	case redirectURI == "":
		http.Error(w, "Missing redirect_uri", http.StatusBadRequest)
		return
	case codeChallenge == "":
		http.Error(w, "Missing code_challenge", http.StatusBadRequest)
		return
	case q.Get("response_type") != "code":
		http.Error(w, "response_type must be 'code'", http.StatusBadRequest)
		return
	case q.Get("code_challenge_method") != "S256":
		http.Error(w, "code_challenge_method must be 'S256'", http.StatusBadRequest)
		return
	}

	client, ok := h.store.GetClient(clientID)
	if !ok {
		http.Error(w, "Unknown client_id", http.StatusBadRequest)
		return
	}
	if !client.RedirectURIRegistered(redirectURI) {
		http.Error(w, "redirect_uri not registered for this client", http.StatusBadRequest)
		return
	}

	scope := q.Get("scope")
	if scope == "" {
		scope = DefaultScope
	}

	code := h.store.CreateAuthCode(ctx, clientID, redirectURI, codeChallenge, scope)
	h.log.InfoContext(ctx, "oauth.authorize.approve", slog.String("client_id", clientID))

	loc := redirectURI
	if strings.Contains(loc, "?") {
		loc += "&"
	} else {
		loc += "?"
	}
	loc += "code=" + url.QueryEscape(code)
	if state := q.Get("state"); state != "" {
		loc += "&state=" + url.QueryEscape(state)
	}

	http.Redirect(w, r, loc, http.StatusFound)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.tokenError(w, "invalid_request", "request body must be application/x-www-form-urlencoded")
		return
	}

	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r)
	default:
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "unsupported_grant_type"})
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := r.PostFormValue("code")
	if code == "" {
		h.tokenError(w, "invalid_request", "Missing code")
		return
	}
	verifier := r.PostFormValue("code_verifier")
	if verifier == "" {
		h.tokenError(w, "invalid_request", "Missing code_verifier")
		return
	}

	info, ok := h.store.ConsumeAuthCode(ctx, code)
	if !ok {
		h.tokenError(w, "invalid_grant", "Invalid or expired authorization code")
		return
	}

	if uri := r.PostFormValue("redirect_uri"); uri != "" && uri != info.RedirectURI {
		h.tokenError(w, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if !VerifyS256(verifier, info.CodeChallenge) {
		h.log.WarnContext(ctx, "oauth.pkce.fail", slog.String("client_id", info.ClientID))
		h.tokenError(w, "invalid_grant", "PKCE verification failed")
		return
	}

	pair := h.store.CreateTokenPair(ctx, info.ClientID, info.Scope)
	h.tokenSuccess(w, pair)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.PostFormValue("refresh_token")
	if token == "" {
		h.tokenError(w, "invalid_request", "Missing refresh_token")
		return
	}

	pair, ok := h.store.RefreshTokenPair(ctx, token)
	if !ok {
		h.tokenError(w, "invalid_grant", "Invalid or expired refresh token")
		return
	}

	h.tokenSuccess(w, pair)
}

// tokenSuccess writes a token response with the RFC 6749 §5.1 cache
// headers: token material must never be cached.
func (h *Handler) tokenSuccess(w http.ResponseWriter, pair TokenPair) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"token_type":    "Bearer",
		"expires_in":    int(pair.ExpiresIn.Seconds()),
		"refresh_token": pair.RefreshToken,
		"scope":         pair.Scope,
	})
}

func (h *Handler) tokenError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, oauthError{Error: code, ErrorDescription: description})
}
