// Package transport serves the MCP protocol over streamable HTTP
// (with SSE resumability) and over stdio.
package transport

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/scholarmcp/scholarmcp/internal/jsonrpc"
	"github.com/scholarmcp/scholarmcp/internal/logctx"
	"github.com/scholarmcp/scholarmcp/internal/metrics"
	"github.com/scholarmcp/scholarmcp/internal/oauth"
	"github.com/scholarmcp/scholarmcp/internal/session"
	"github.com/scholarmcp/scholarmcp/internal/tools"
)

const (
	mcpSessionIDHeader    = "Mcp-Session-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	defaultKeepAliveInterval = 15 * time.Second
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// Handler is the HTTP surface of the server: health endpoints, the
// streamable /mcp endpoint, the legacy /sse+/message pair and, when
// enabled, bearer authentication in front of all of them.
type Handler struct {
	mux      *http.ServeMux
	log      *slog.Logger
	met      *metrics.Metrics
	sessions *session.Manager
	disp     *dispatcher

	baseURL string
	realm   string

	staticToken         string
	oauthStore          *oauth.Store
	resourceMetadataURL string

	keepAliveInterval time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the base logger; context data is folded in
// automatically.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

// WithMetrics sets the instrument set.
func WithMetrics(met *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.met = met }
}

// WithStaticToken enables static bearer-token authentication.
func WithStaticToken(token string) HandlerOption {
	return func(h *Handler) { h.staticToken = token }
}

// WithOAuth enables OAuth bearer validation against the given store.
// resourceMetadataURL is advertised in WWW-Authenticate challenges so
// clients can discover the authorization server.
func WithOAuth(store *oauth.Store, resourceMetadataURL string) HandlerOption {
	return func(h *Handler) {
		h.oauthStore = store
		h.resourceMetadataURL = resourceMetadataURL
	}
}

// WithRealm sets the realm attribute on WWW-Authenticate challenges.
// Empty omits it.
func WithRealm(realm string) HandlerOption {
	return func(h *Handler) { h.realm = strings.TrimSpace(realm) }
}

// WithKeepAliveInterval overrides the SSE keep-alive cadence,
// primarily for tests.
func WithKeepAliveInterval(d time.Duration) HandlerOption {
	return func(h *Handler) { h.keepAliveInterval = d }
}

// NewHandler builds the HTTP handler. baseURL is the public origin
// embedded in legacy endpoint announcements.
func NewHandler(sessions *session.Manager, registry *tools.Registry, baseURL string, opts ...HandlerOption) *Handler {
	h := &Handler{
		log:               slog.Default(),
		met:               metrics.Noop(),
		sessions:          sessions,
		baseURL:           strings.TrimRight(baseURL, "/"),
		keepAliveInterval: defaultKeepAliveInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})
	h.disp = &dispatcher{log: h.log, met: h.met, registry: registry}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleHealth)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)
	mux.HandleFunc("GET /sessions", h.handleSessionsList)
	mux.HandleFunc("POST /mcp", h.requireAuth(h.handleMCPPost))
	mux.HandleFunc("GET /mcp", h.requireAuth(h.handleMCPGet))
	mux.HandleFunc("GET /sse", h.requireAuth(h.handleSSELegacy))
	mux.HandleFunc("POST /message", h.requireAuth(h.handleMCPPost))
	h.mux = mux
	return h
}

// RegisterOAuthEndpoints mounts the authorization server's discovery,
// registration, authorize and token routes onto this handler's mux.
func (h *Handler) RegisterOAuthEndpoints(oh *oauth.Handler) {
	oh.Register(h.mux)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// authRequired reports whether bearer authentication is configured at
// all.
func (h *Handler) authRequired() bool {
	return h.staticToken != "" || h.oauthStore != nil
}

// buildBearerChallenge renders a WWW-Authenticate value in the stable
// order realm, resource_metadata, error, error_description.
func (h *Handler) buildBearerChallenge(params map[string]string) string {
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	pieces := make([]string, 0, 4)
	if h.realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(h.realm)))
	}
	if h.resourceMetadataURL != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(h.resourceMetadataURL)))
	}
	if v, ok := params["error"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
	}
	if v, ok := params["error_description"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// bearerToken extracts credentials from the Authorization header or,
// failing that, the token query parameter.
func bearerToken(r *http.Request) string {
	const bearerPrefix = "Bearer "
	if ah := r.Header.Get(authorizationHeader); strings.HasPrefix(ah, bearerPrefix) {
		return strings.TrimSpace(ah[len(bearerPrefix):])
	}
	return r.URL.Query().Get("token")
}

// requireAuth wraps a handler with bearer authentication. With no
// credentials configured the wrapped handler runs unauthenticated.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authRequired() {
			next(w, r)
			return
		}
		ctx := r.Context()

		tok := bearerToken(r)
		if tok == "" {
			// No credentials at all: bare challenge, no error code.
			h.log.InfoContext(ctx, "auth.check.missing")
			h.met.AuthFailures.Add(ctx, 1)
			w.Header().Add(wwwAuthenticateHeader, h.buildBearerChallenge(nil))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if h.staticToken != "" &&
			subtle.ConstantTimeCompare([]byte(tok), []byte(h.staticToken)) == 1 {
			next(w, r)
			return
		}
		if h.oauthStore != nil {
			if clientID, ok := h.oauthStore.ValidateAccessToken(tok); ok {
				r = r.WithContext(logctx.WithSessionData(ctx, &logctx.SessionData{ClientID: clientID}))
				next(w, r)
				return
			}
		}

		h.log.InfoContext(ctx, "auth.check.fail")
		h.met.AuthFailures.Add(ctx, 1)
		w.Header().Add(wwwAuthenticateHeader, h.buildBearerChallenge(map[string]string{
			"error":             "invalid_token",
			"error_description": "token is expired or unknown",
		}))
		w.WriteHeader(http.StatusUnauthorized)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": ServerName,
		"version": ServerVersion,
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"service":  ServerName,
		"version":  ServerVersion,
		"sessions": h.sessions.Len(),
		"tools":    h.disp.registry.Len(),
	})
}

func (h *Handler) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count": h.sessions.Len(),
	})
}

// requestSessionID resolves the session id the client supplied, header
// first, query parameter second.
func requestSessionID(r *http.Request) string {
	if id := r.Header.Get(mcpSessionIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("sessionId")
}

// handleMCPPost serves POST /mcp and the legacy POST /message. Every
// response carries the session id so clients can adopt it.
func (h *Handler) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		writeJSON(w, http.StatusUnsupportedMediaType,
			jsonrpc.NewErrorResponse(nil, jsonrpc.CodeInvalidRequest, "content-type must be application/json"))
		return
	}

	var req jsonrpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.WarnContext(ctx, "jsonrpc.decode.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.CodeParseError, "Parse error"))
		return
	}

	sess := h.sessions.GetOrCreate(ctx, requestSessionID(r))
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID})
	w.Header().Set(mcpSessionIDHeader, sess.ID)

	resp := h.disp.dispatch(ctx, &req, sess)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMCPGet serves the streamable-HTTP event stream: replay after
// Last-Event-ID, then live events.
func (h *Handler) handleMCPGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		h.log.WarnContext(ctx, "accept.unsupported")
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	sess := h.sessions.GetOrCreate(ctx, requestSessionID(r))
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID})
	lastEventID := parseLastEventID(r)

	w.Header().Set(mcpSessionIDHeader, sess.ID)
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start", slog.Uint64("last_event_id", lastEventID))
	if err := streamEvents(ctx, wf, sess, lastEventID, h.keepAliveInterval); err != nil {
		h.log.DebugContext(ctx, "sse.stream.end", slog.String("reason", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.end")
}

// handleSSELegacy serves the old HTTP+SSE transport: a fresh session
// whose first event announces the message endpoint to POST to.
func (h *Handler) handleSSELegacy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	sess := h.sessions.Create(ctx)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID})
	lastEventID := parseLastEventID(r)

	endpointData, _ := json.Marshal(map[string]string{
		"endpoint": fmt.Sprintf("%s/message?sessionId=%s", h.baseURL, sess.ID),
	})
	// Stored as event 1 so reconnects can replay it.
	sess.PushEvent("endpoint", string(endpointData))
	h.met.EventsPushed.Add(ctx, 1)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	wf.Flush()

	// The endpoint event is id 1, so a reconnect that already saw it
	// (Last-Event-ID >= 1) naturally skips it during replay.
	h.log.InfoContext(ctx, "sse.legacy.start", slog.Uint64("last_event_id", lastEventID))
	if err := streamEvents(ctx, wf, sess, lastEventID, h.keepAliveInterval); err != nil {
		h.log.DebugContext(ctx, "sse.legacy.end", slog.String("reason", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.legacy.end")
}
