// Package auth supplies bearer tokens for requests against services under test.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Provider yields the bearer token for one request. An empty token means the
// request goes out unauthenticated.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static always returns the same token.
type Static string

func (s Static) Token(context.Context) (string, error) { return string(s), nil }

// NoAuth sends requests without an Authorization header.
var NoAuth Provider = Static("")

// ClientCredentialsConfig identifies an OIDC client in a realm.
type ClientCredentialsConfig struct {
	// IssuerURL is the realm URL, e.g. http://localhost:8090/realms/chicken.
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// HTTPClient talks to the token endpoint; http.DefaultClient when nil.
	HTTPClient *http.Client
}

// TokenURL is the realm's token endpoint.
func (c ClientCredentialsConfig) TokenURL() string {
	return strings.TrimRight(c.IssuerURL, "/") + "/protocol/openid-connect/token"
}

type clientCredentials struct {
	src oauth2.TokenSource
}

// NewClientCredentials returns a provider running the OIDC client-credentials
// grant. Tokens are cached and refreshed shortly before they expire.
func NewClientCredentials(cfg ClientCredentialsConfig) (Provider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("client credentials require an issuer url and client id")
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// the source outlives any single request context
	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	return &clientCredentials{src: cc.TokenSource(ctx)}, nil
}

func (c *clientCredentials) Token(ctx context.Context) (string, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := c.src.Token()
		done <- result{tok, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("fetch access token: %w", r.err)
		}
		return r.tok.AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Context holds the identities tests act as.
type Context struct {
	User    Provider
	Manager Provider
}

// Inject sets the Authorization header on req from p.
func Inject(ctx context.Context, req *http.Request, p Provider) error {
	if p == nil {
		return nil
	}
	tok, err := p.Token(ctx)
	if err != nil {
		return err
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// Transport injects a token from Provider into every request it carries.
type Transport struct {
	Provider Provider
	Base     http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	// RoundTrippers must not modify the caller's request
	r := req.Clone(req.Context())
	if err := Inject(req.Context(), r, t.Provider); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	return base.RoundTrip(r)
}
