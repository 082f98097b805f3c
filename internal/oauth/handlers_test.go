package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestHandler(t *testing.T) (*Handler, *Store, *http.ServeMux) {
	t.Helper()
	store := NewStore()
	h := NewHandler(store, "https://mcp.example.com")
	mux := http.NewServeMux()
	h.Register(mux)
	return h, store, mux
}

func registerTestClient(t *testing.T, mux *http.ServeMux, redirectURIs ...string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"client_name":   "Test App",
		"redirect_uris": redirectURIs,
	})
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("registration failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode registration response: %v", err)
	}
	return resp.ClientID
}

func TestDiscoveryDocuments(t *testing.T) {
	_, _, mux := newTestHandler(t)

	t.Run("protected resource metadata", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
		var doc struct {
			Resource             string   `json:"resource"`
			AuthorizationServers []string `json:"authorization_servers"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatal(err)
		}
		if doc.Resource != "https://mcp.example.com" {
			t.Fatalf("unexpected resource: %q", doc.Resource)
		}
		if len(doc.AuthorizationServers) != 1 || doc.AuthorizationServers[0] != "https://mcp.example.com" {
			t.Fatalf("unexpected authorization servers: %v", doc.AuthorizationServers)
		}
	})

	t.Run("authorization server metadata", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
		var doc struct {
			Issuer                        string   `json:"issuer"`
			TokenEndpoint                 string   `json:"token_endpoint"`
			GrantTypesSupported           []string `json:"grant_types_supported"`
			CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatal(err)
		}
		if doc.TokenEndpoint != "https://mcp.example.com/token" {
			t.Fatalf("unexpected token endpoint: %q", doc.TokenEndpoint)
		}
		if len(doc.CodeChallengeMethodsSupported) != 1 || doc.CodeChallengeMethodsSupported[0] != "S256" {
			t.Fatalf("unexpected code challenge methods: %v", doc.CodeChallengeMethodsSupported)
		}
	})
}

func TestRegisterRequiresRedirectURIs(t *testing.T) {
	_, _, mux := newTestHandler(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"client_name":"x"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp oauthError
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "invalid_client_metadata" {
		t.Fatalf("unexpected error code: %q", resp.Error)
	}
}

func TestAuthorizeValidation(t *testing.T) {
	_, _, mux := newTestHandler(t)
	clientID := registerTestClient(t, mux, "https://cb.example.com/done")

	base := url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {"https://cb.example.com/done"},
		"response_type":         {"code"},
		"code_challenge":        {ChallengeS256("verifier")},
		"code_challenge_method": {"S256"},
		"state":                 {"xyz"},
	}

	cases := []struct {
		name   string
		mutate func(url.Values)
	}{
		{"missing client_id", func(v url.Values) { v.Del("client_id") }},
		{"missing redirect_uri", func(v url.Values) { v.Del("redirect_uri") }},
		{"missing code_challenge", func(v url.Values) { v.Del("code_challenge") }},
		{"wrong response_type", func(v url.Values) { v.Set("response_type", "token") }},
		{"wrong challenge method", func(v url.Values) { v.Set("code_challenge_method", "plain") }},
		{"unknown client", func(v url.Values) { v.Set("client_id", "nope") }},
		{"unregistered redirect_uri", func(v url.Values) { v.Set("redirect_uri", "https://evil.example.com/cb") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := url.Values{}
			for k, vs := range base {
				q[k] = append([]string(nil), vs...)
			}
			tc.mutate(q)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status: want 400 got %d", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != "" {
				t.Fatalf("validation failure must not redirect, got Location %q", loc)
			}
		})
	}
}

func TestAuthorizeAutoApprovesAndEchoesState(t *testing.T) {
	_, _, mux := newTestHandler(t)
	clientID := registerTestClient(t, mux, "https://cb.example.com/done")

	q := url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {"https://cb.example.com/done"},
		"response_type":         {"code"},
		"code_challenge":        {ChallengeS256("verifier")},
		"code_challenge_method": {"S256"},
		"state":                 {"opaque state!"},
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("unexpected status: want 302 got %d: %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "cb.example.com" || loc.Path != "/done" {
		t.Fatalf("unexpected redirect target: %s", loc)
	}
	if loc.Query().Get("code") == "" {
		t.Fatal("expected code in redirect")
	}
	if got := loc.Query().Get("state"); got != "opaque state!" {
		t.Fatalf("state not echoed: %q", got)
	}
}

func postToken(t *testing.T, mux *http.ServeMux, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTokenEndpoint(t *testing.T) {
	ctx := context.Background()
	_, store, mux := newTestHandler(t)
	clientID := registerTestClient(t, mux, "https://cb.example.com/done")

	issueCode := func(verifier string) string {
		return store.CreateAuthCode(ctx, clientID, "https://cb.example.com/done", ChallengeS256(verifier), "mcp")
	}

	t.Run("authorization_code happy path sets no-store", func(t *testing.T) {
		code := issueCode("v1")
		rec := postToken(t, mux, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"code_verifier": {"v1"},
			"redirect_uri":  {"https://cb.example.com/done"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("Cache-Control"); got != "no-store" {
			t.Fatalf("missing no-store header, got %q", got)
		}
		if got := rec.Header().Get("Pragma"); got != "no-cache" {
			t.Fatalf("missing no-cache pragma, got %q", got)
		}
		var resp struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int    `json:"expires_in"`
			RefreshToken string `json:"refresh_token"`
			Scope        string `json:"scope"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.TokenType != "Bearer" || resp.ExpiresIn != 3600 {
			t.Fatalf("unexpected token response: %+v", resp)
		}
		if gotClient, ok := store.ValidateAccessToken(resp.AccessToken); !ok || gotClient != clientID {
			t.Fatalf("issued token does not validate: %q %v", gotClient, ok)
		}
	})

	t.Run("PKCE mismatch is invalid_grant and burns the code", func(t *testing.T) {
		code := issueCode("v2")
		rec := postToken(t, mux, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"code_verifier": {"wrong"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
		var resp oauthError
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Error != "invalid_grant" {
			t.Fatalf("unexpected error: %q", resp.Error)
		}

		// The code was consumed by the failed attempt.
		rec = postToken(t, mux, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"code_verifier": {"v2"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected burned code to be rejected, got %d", rec.Code)
		}
	})

	t.Run("redirect_uri mismatch rejected", func(t *testing.T) {
		code := issueCode("v3")
		rec := postToken(t, mux, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"code_verifier": {"v3"},
			"redirect_uri":  {"https://evil.example.com/cb"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	})

	t.Run("refresh rotates and retires old pair", func(t *testing.T) {
		pair := store.CreateTokenPair(ctx, clientID, "mcp")

		rec := postToken(t, mux, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {pair.RefreshToken},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if _, ok := store.ValidateAccessToken(pair.AccessToken); ok {
			t.Fatal("old access token survived refresh")
		}
		if _, ok := store.ValidateAccessToken(resp.AccessToken); !ok {
			t.Fatal("new access token does not validate")
		}

		rec = postToken(t, mux, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {pair.RefreshToken},
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected reused refresh token to fail, got %d", rec.Code)
		}
	})

	t.Run("unsupported grant type", func(t *testing.T) {
		rec := postToken(t, mux, url.Values{"grant_type": {"client_credentials"}})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
		var resp oauthError
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Error != "unsupported_grant_type" {
			t.Fatalf("unexpected error: %q", resp.Error)
		}
	})
}

func TestRegisterRateLimit(t *testing.T) {
	_, _, mux := newTestHandler(t)

	body := `{"redirect_uris":["https://cb.example.com/done"]}`
	var last int
	for i := 0; i < registerRatePerMinute+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected registration burst to be rate limited, got %d", last)
	}
}
