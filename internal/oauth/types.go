package oauth

import "time"

const (
	// AuthCodeLifetime is how long an authorization code may be
	// exchanged after issuance.
	AuthCodeLifetime = 600 * time.Second

	// AccessTokenLifetime is the validity window of an access token.
	AccessTokenLifetime = 3600 * time.Second

	// RefreshTokenLifetime is the validity window of a refresh token.
	RefreshTokenLifetime = 30 * 24 * time.Hour

	// CleanupInterval is how often the expiry sweep runs.
	CleanupInterval = 300 * time.Second

	// DefaultScope is granted when an authorize request names none.
	DefaultScope = "mcp"
)

// Client is a dynamically registered OAuth client. Never mutated after
// registration; retained for the process lifetime.
type Client struct {
	ClientID     string
	ClientName   string
	RedirectURIs []string
	CreatedAt    time.Time
}

// RedirectURIRegistered reports whether uri is one of the client's
// registered redirect URIs.
func (c *Client) RedirectURIRegistered(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// authCode is a pending authorization code. Consumable at most once
// and only within AuthCodeLifetime of creation.
type authCode struct {
	clientID      string
	redirectURI   string
	codeChallenge string
	scope         string
	createdAt     time.Time
	used          bool
}

func (a *authCode) expired() bool {
	return time.Since(a.createdAt) > AuthCodeLifetime
}

// accessToken is an issued bearer token validated by lookup.
type accessToken struct {
	clientID  string
	createdAt time.Time
	expiresIn time.Duration
}

func (t *accessToken) expired() bool {
	return time.Since(t.createdAt) > t.expiresIn
}

// refreshToken back-references the access token it was minted with so
// rotation can retire the pair atomically.
type refreshToken struct {
	clientID    string
	accessToken string
	scope       string
	createdAt   time.Time
	expiresIn   time.Duration
}

func (t *refreshToken) expired() bool {
	return time.Since(t.createdAt) > t.expiresIn
}

// AuthCodeInfo is the data released when a code is consumed.
type AuthCodeInfo struct {
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	Scope         string
}

// TokenPair is the result of token issuance or rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Scope        string
}
