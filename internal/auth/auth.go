// Package auth implements the Agent's credential collaborator: a static
// API key, or an OAuth token the Agent refreshes when it is close to
// expiry, persisting the renewed credentials to disk with restrictive
// permissions.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoCredentials is returned when a Credentials value has neither an API
// key nor OAuth tokens configured for its Mode.
var ErrNoCredentials = errors.New("auth: no credentials configured")

// Mode selects which of the two credential shapes is active.
type Mode string

const (
	ModeAPIKey Mode = "api_key"
	ModeOAuth  Mode = "oauth"
)

// Credentials is the value the Agent attaches to outbound chat completion
// requests. Exactly one of APIKey or the OAuth triple is meaningful,
// selected by Mode.
type Credentials struct {
	Mode Mode `json:"mode"`

	// APIKey is used verbatim as a static bearer token when Mode == ModeAPIKey.
	APIKey string `json:"api_key,omitempty"`

	// RefreshToken, AccessToken, and ExpiresAt back Mode == ModeOAuth.
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// BearerToken returns the value to send as the Authorization bearer token
// for the current credentials.
func (c Credentials) BearerToken() (string, error) {
	switch c.Mode {
	case ModeAPIKey:
		if c.APIKey == "" {
			return "", ErrNoCredentials
		}
		return c.APIKey, nil
	case ModeOAuth:
		if c.AccessToken == "" {
			return "", ErrNoCredentials
		}
		return c.AccessToken, nil
	default:
		return "", ErrNoCredentials
	}
}

// NeedsRefresh reports whether an OAuth access token is within window of
// expiring. API-key credentials never need refresh.
func (c Credentials) NeedsRefresh(window time.Duration) bool {
	if c.Mode != ModeOAuth {
		return false
	}
	return time.Until(c.ExpiresAt) < window
}

// TokenRefresher exchanges a refresh token for a new access token. It is
// satisfied by OAuthRefresher (golang.org/x/oauth2-backed, see oauth.go)
// in production and stubbed out in tests.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken string, expiresAt time.Time, err error)
}

// Store persists Credentials to a single on-disk JSON file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore binds a Store to a path. The parent directory is created lazily
// on first Save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads Credentials from disk. A missing file is not an error; it
// returns the zero value.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("auth: decode credentials: %w", err)
	}
	return creds, nil
}

// Save writes Credentials to disk with 0600 permissions, creating the
// parent directory (0700) if needed.
func (s *Store) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("auth: create credentials dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("auth: write credentials: %w", err)
	}
	return nil
}

// RefreshWindow is how close to expiry an OAuth access token must be
// before Manager.EnsureFresh triggers a refresh.
const RefreshWindow = 60 * time.Second

// Manager is the Agent-facing collaborator: it holds the current
// credentials, hands out bearer tokens, and refreshes+persists OAuth
// tokens when they're close to expiry.
type Manager struct {
	mu        sync.Mutex
	store     *Store
	refresher TokenRefresher
	creds     Credentials
}

// NewManager loads initial credentials from store and binds refresher for
// OAuth renewal.
func NewManager(store *Store, refresher TokenRefresher) (*Manager, error) {
	creds, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, refresher: refresher, creds: creds}, nil
}

// SetCredentials overrides the in-memory credentials, e.g. when
// configuration supplies a static API key directly rather than via the
// on-disk store.
func (m *Manager) SetCredentials(creds Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
}

// EnsureFresh refreshes the OAuth access token if it is within
// RefreshWindow of expiring, persisting the renewed credentials. It is a
// no-op for API-key credentials.
func (m *Manager) EnsureFresh(ctx context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.creds.NeedsRefresh(RefreshWindow) {
		return m.creds, nil
	}
	if m.refresher == nil {
		return Credentials{}, fmt.Errorf("auth: oauth token expired and no refresher configured")
	}
	accessToken, expiresAt, err := m.refresher.Refresh(ctx, m.creds.RefreshToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: refresh oauth token: %w", err)
	}
	m.creds.AccessToken = accessToken
	m.creds.ExpiresAt = expiresAt
	if err := m.store.Save(m.creds); err != nil {
		return Credentials{}, err
	}
	return m.creds, nil
}

// BearerToken returns the current bearer token without attempting a
// refresh; callers that need refresh-on-demand should call EnsureFresh
// first.
func (m *Manager) BearerToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.BearerToken()
}
