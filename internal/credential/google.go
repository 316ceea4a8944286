package credential

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	oauth2jwt "golang.org/x/oauth2/jwt"
)

// GoogleProvider obtains delegated-access tokens for a service account using
// the JWT bearer grant.
type GoogleProvider struct {
	conf *oauth2jwt.Config
}

func NewGoogleProvider(credsJSON []byte, scopes ...string) (*GoogleProvider, error) {
	conf, err := google.JWTConfigFromJSON(credsJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	return &GoogleProvider{conf: conf}, nil
}

// Refresh always performs a fresh grant; the current token is not reused.
func (p *GoogleProvider) Refresh(ctx context.Context, _ Token) (Token, error) {
	tok, err := p.conf.TokenSource(ctx).Token()
	if err != nil {
		return Token{}, fmt.Errorf("google token grant: %w", err)
	}
	return Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

func (p *GoogleProvider) Email() string {
	return p.conf.Email
}
