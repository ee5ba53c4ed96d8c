package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/store"
)

func TestAccessTokenForCachedStillValid(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedConnectedAccount(store.ConnectedAccount{
		ID:             "acct-1",
		Platform:       store.PlatformYouTube,
		AccessTokenRef: "cached-token",
		ExpiresAt:      time.Now().Add(time.Hour),
	})

	p := New(mem, config.OAuthClient{}, "https://example.invalid/token")
	tok, err := p.AccessTokenFor(context.Background(), "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if tok.Value != "cached-token" {
		t.Fatalf("expected cached token to be reused without a refresh call, got %q", tok.Value)
	}
}

func TestAccessTokenForRefreshesWhenStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-token","refresh_token":"new-refresh","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	mem := store.NewMemory()
	mem.SeedConnectedAccount(store.ConnectedAccount{
		ID:              "acct-2",
		Platform:        store.PlatformTikTok,
		RefreshTokenRef: "old-refresh",
		ExpiresAt:       time.Now().Add(-time.Hour),
	})

	p := New(mem, config.OAuthClient{ClientID: "id", ClientSecret: "secret"}, srv.URL)
	tok, err := p.AccessTokenFor(context.Background(), "acct-2")
	if err != nil {
		t.Fatal(err)
	}
	if tok.Value != "fresh-token" {
		t.Fatalf("expected refreshed token, got %q", tok.Value)
	}

	acct, err := mem.GetConnectedAccount(context.Background(), "acct-2")
	if err != nil {
		t.Fatal(err)
	}
	if acct.AccessTokenRef != "fresh-token" || acct.RefreshTokenRef != "new-refresh" {
		t.Fatalf("expected refreshed tokens persisted, got %+v", acct)
	}
}

func TestAccessTokenForNoRefreshToken(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedConnectedAccount(store.ConnectedAccount{
		ID:        "acct-3",
		ExpiresAt: time.Now().Add(-time.Hour),
	})

	p := New(mem, config.OAuthClient{}, "https://example.invalid/token")
	if _, err := p.AccessTokenFor(context.Background(), "acct-3"); err == nil {
		t.Fatal("expected error when no refresh token is available")
	}
}
