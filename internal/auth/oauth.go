package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// OAuthRefresher adapts golang.org/x/oauth2's token-source refresh flow to
// the TokenRefresher contract Manager.EnsureFresh uses. It backs a single
// long-lived agent credential rather than a multi-user login system.
type OAuthRefresher struct {
	config oauth2.Config
}

// NewOAuthRefresher builds a refresher bound to a token endpoint and client
// credentials (client_id/client_secret/token_url).
func NewOAuthRefresher(clientID, clientSecret, tokenURL string) *OAuthRefresher {
	return &OAuthRefresher{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Refresh exchanges refreshToken for a new access token via the standard
// OAuth2 refresh-token grant.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	if refreshToken == "" {
		return "", time.Time{}, fmt.Errorf("auth: empty refresh token")
	}
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: oauth2 refresh: %w", err)
	}
	return tok.AccessToken, tok.Expiry, nil
}
