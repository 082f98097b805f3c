package oauth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scholarmcp/scholarmcp/internal/metrics"
)

// Store is the authoritative in-memory OAuth state: registered
// clients, pending authorization codes and issued token pairs. Each
// map has its own read/write lock so validation reads never contend
// across concerns.
type Store struct {
	log *slog.Logger
	met *metrics.Metrics

	clientsMu sync.RWMutex
	clients   map[string]*Client

	codesMu sync.RWMutex
	codes   map[string]*authCode

	accessMu sync.RWMutex
	access   map[string]*accessToken

	refreshMu sync.RWMutex
	refresh   map[string]*refreshToken
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for lifecycle events.
func WithStoreLogger(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// WithStoreMetrics sets the instrument set recorded on issuance events.
func WithStoreMetrics(met *metrics.Metrics) StoreOption {
	return func(s *Store) { s.met = met }
}

// NewStore creates an empty OAuth state store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		log:     slog.Default(),
		met:     metrics.Noop(),
		clients: make(map[string]*Client),
		codes:   make(map[string]*authCode),
		access:  make(map[string]*accessToken),
		refresh: make(map[string]*refreshToken),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newSecret mints an unguessable 256-bit token from two UUIDs.
func newSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RegisterClient stores a new dynamically registered client. The
// caller validates that redirectURIs is non-empty.
func (s *Store) RegisterClient(ctx context.Context, name string, redirectURIs []string) *Client {
	c := &Client{
		ClientID:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		ClientName:   name,
		RedirectURIs: append([]string(nil), redirectURIs...),
		CreatedAt:    time.Now(),
	}

	s.clientsMu.Lock()
	s.clients[c.ClientID] = c
	s.clientsMu.Unlock()

	s.met.ClientsRegistered.Add(ctx, 1)
	s.log.InfoContext(ctx, "oauth.client.register", slog.String("client_id", c.ClientID))
	return c
}

// GetClient looks up a registered client by id.
func (s *Store) GetClient(clientID string) (*Client, bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	c, ok := s.clients[clientID]
	return c, ok
}

// CreateAuthCode unconditionally mints and stores a fresh one-time
// authorization code bound to the given PKCE challenge.
func (s *Store) CreateAuthCode(ctx context.Context, clientID, redirectURI, codeChallenge, scope string) string {
	code := newSecret()

	s.codesMu.Lock()
	s.codes[code] = &authCode{
		clientID:      clientID,
		redirectURI:   redirectURI,
		codeChallenge: codeChallenge,
		scope:         scope,
		createdAt:     time.Now(),
	}
	s.codesMu.Unlock()

	s.met.CodesIssued.Add(ctx, 1)
	return code
}

// ConsumeAuthCode atomically marks a code used and returns its data.
// It fails when the code is unknown, already used, or expired. Two
// concurrent consumers cannot both succeed.
func (s *Store) ConsumeAuthCode(ctx context.Context, code string) (*AuthCodeInfo, bool) {
	s.codesMu.Lock()
	defer s.codesMu.Unlock()

	ac, ok := s.codes[code]
	if !ok || ac.used || ac.expired() {
		return nil, false
	}
	ac.used = true

	return &AuthCodeInfo{
		ClientID:      ac.clientID,
		RedirectURI:   ac.redirectURI,
		CodeChallenge: ac.codeChallenge,
		Scope:         ac.scope,
	}, true
}

// CreateTokenPair mints and stores a linked access/refresh pair.
func (s *Store) CreateTokenPair(ctx context.Context, clientID, scope string) TokenPair {
	access := newSecret()
	refresh := newSecret()
	now := time.Now()

	s.accessMu.Lock()
	s.access[access] = &accessToken{clientID: clientID, createdAt: now, expiresIn: AccessTokenLifetime}
	s.accessMu.Unlock()

	s.refreshMu.Lock()
	s.refresh[refresh] = &refreshToken{
		clientID:    clientID,
		accessToken: access,
		scope:       scope,
		createdAt:   now,
		expiresIn:   RefreshTokenLifetime,
	}
	s.refreshMu.Unlock()

	s.met.TokensIssued.Add(ctx, 1)
	s.log.InfoContext(ctx, "oauth.token.issue", slog.String("client_id", clientID))
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: AccessTokenLifetime, Scope: scope}
}

// ValidateAccessToken returns the owning client id when the token is
// known and unexpired.
func (s *Store) ValidateAccessToken(token string) (string, bool) {
	s.accessMu.RLock()
	defer s.accessMu.RUnlock()

	at, ok := s.access[token]
	if !ok || at.expired() {
		return "", false
	}
	return at.clientID, true
}

// RefreshTokenPair rotates a pair: the old refresh token and its
// linked access token are removed before the new pair is minted, so a
// refreshed token can never validate again.
func (s *Store) RefreshTokenPair(ctx context.Context, token string) (TokenPair, bool) {
	s.refreshMu.Lock()
	rt, ok := s.refresh[token]
	if ok {
		delete(s.refresh, token)
	}
	s.refreshMu.Unlock()

	if !ok || rt.expired() {
		return TokenPair{}, false
	}

	s.accessMu.Lock()
	delete(s.access, rt.accessToken)
	s.accessMu.Unlock()

	pair := s.CreateTokenPair(ctx, rt.clientID, rt.scope)
	s.met.TokensRefreshed.Add(ctx, 1)
	s.log.InfoContext(ctx, "oauth.token.refresh", slog.String("client_id", rt.clientID))
	return pair, true
}

// CleanupExpired sweeps expired codes and tokens. Used codes are kept
// until their natural expiry so a duplicate submit gets a clean
// invalid_grant rather than an unknown-code miss, then purged.
func (s *Store) CleanupExpired(ctx context.Context) {
	s.codesMu.Lock()
	for code, ac := range s.codes {
		if ac.expired() {
			delete(s.codes, code)
		}
	}
	s.codesMu.Unlock()

	removedAccess := 0
	s.accessMu.Lock()
	for token, at := range s.access {
		if at.expired() {
			delete(s.access, token)
			removedAccess++
		}
	}
	s.accessMu.Unlock()

	removedRefresh := 0
	s.refreshMu.Lock()
	for token, rt := range s.refresh {
		if rt.expired() {
			delete(s.refresh, token)
			removedRefresh++
		}
	}
	s.refreshMu.Unlock()

	if removedAccess > 0 || removedRefresh > 0 {
		s.log.DebugContext(ctx, "oauth.sweep.done",
			slog.Int("access", removedAccess),
			slog.Int("refresh", removedRefresh))
	}
}

// Run sweeps expired state on a fixed interval until ctx is canceled.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.CleanupExpired(ctx)
		}
	}
}
