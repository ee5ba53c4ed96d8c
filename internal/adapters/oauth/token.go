// Copyright 2025 James Ross
// Package oauth implements ports.TokenProvider against golang.org/x/oauth2,
// refreshing a connected account's stored refresh token and persisting the
// rotated tokens back through store.Store.
package oauth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/store"
)

// refreshMargin is how far ahead of expiry a cached token is still
// considered usable without hitting the provider.
const refreshMargin = 2 * time.Minute

// Provider refreshes connected-account access tokens for a single
// platform (TikTok or YouTube), each holding its own OAuth2 app
// credentials.
type Provider struct {
	store  store.Store
	config oauth2.Config
}

func New(s store.Store, client config.OAuthClient, tokenURL string) *Provider {
	return &Provider{
		store: s,
		config: oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			Scopes:       client.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL: firstNonEmpty(client.TokenURL, tokenURL),
			},
		},
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (p *Provider) AccessTokenFor(ctx context.Context, connectedAccountID string) (ports.AccessToken, error) {
	acct, err := p.store.GetConnectedAccount(ctx, connectedAccountID)
	if err != nil {
		return ports.AccessToken{}, fmt.Errorf("oauth: load connected account: %w", err)
	}

	if acct.AccessTokenRef != "" && time.Now().Add(refreshMargin).Before(acct.ExpiresAt) {
		return ports.AccessToken{Value: acct.AccessTokenRef, ExpiresAt: acct.ExpiresAt}, nil
	}

	if acct.RefreshTokenRef == "" {
		return ports.AccessToken{}, fmt.Errorf("oauth: connected account %s has no refresh token", connectedAccountID)
	}

	src := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.RefreshTokenRef})
	tok, err := src.Token()
	if err != nil {
		return ports.AccessToken{}, fmt.Errorf("oauth: refresh token: %w", err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = acct.RefreshTokenRef
	}
	if err := p.store.UpdateConnectedAccountTokens(ctx, connectedAccountID, tok.AccessToken, refreshToken, tok.Expiry); err != nil {
		return ports.AccessToken{}, fmt.Errorf("oauth: persist refreshed tokens: %w", err)
	}

	return ports.AccessToken{Value: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}
