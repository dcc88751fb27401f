// Package session is the single source of truth for "who is logged in"
// on the client. The Session owns the bearer token and the cached profile;
// every command that needs credentials or user data goes through it.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowguard/flowguard/internal/client/api"
)

// Session tracks the authenticated user across commands. It is an
// injectable object, not ambient state: construct one and pass it to
// whatever needs it.
//
// Two states exist, Anonymous and Authenticated. The cached profile is
// non-nil only while the token was last validated against the backend.
// Not safe for concurrent use; the CLI drives it from a single loop.
type Session struct {
	client  api.Client
	storage TokenStorage

	token   string
	user    *api.Profile
	loading bool
}

func New(client api.Client, storage TokenStorage) *Session {
	return &Session{client: client, storage: storage, loading: true}
}

// IsAuthenticated reports whether a validated profile is cached.
func (s *Session) IsAuthenticated() bool {
	return s.user != nil
}

// User returns the cached profile, or nil when Anonymous.
func (s *Session) User() *api.Profile {
	return s.user
}

// Token returns the current bearer token, "" when none is held.
func (s *Session) Token() string {
	return s.token
}

// Loading reports whether the initial Restore has not finished yet.
func (s *Session) Loading() bool {
	return s.loading
}

// Restore loads a previously persisted token and validates it with a
// profile fetch. It never returns an error: any failure leaves the
// session Anonymous. A rejected token is cleared from storage; a mere
// transport failure keeps it for the next start. Loading turns false
// either way.
func (s *Session) Restore(ctx context.Context) {
	defer func() { s.loading = false }()

	token, err := s.storage.Load()
	if err != nil || token == "" {
		return
	}

	s.token = token
	if err := s.FetchProfile(ctx); err != nil {
		s.user = nil
	}
}

// Login exchanges credentials for a token, persists it, and chains a
// profile fetch. The two calls are sequential; the session is
// Authenticated only after both succeed.
func (s *Session) Login(ctx context.Context, email, password string) error {
	token, err := s.client.Login(ctx, email, password)
	if err != nil {
		return err
	}

	s.token = token
	if err := s.storage.Save(token); err != nil {
		return fmt.Errorf("token saving error: %w", err)
	}

	return s.FetchProfile(ctx)
}

// Signup registers a new account. It does not authenticate: the user
// logs in explicitly afterwards.
func (s *Session) Signup(ctx context.Context, fullName, email, password, apiKey string) error {
	return s.client.Signup(ctx, fullName, email, password, apiKey)
}

// Logout clears the token and profile immediately and unconditionally.
// No network call is made; calling it while Anonymous is a no-op.
func (s *Session) Logout() error {
	s.token = ""
	s.user = nil
	return s.storage.Clear()
}

// FetchProfile refreshes the cached profile using the stored token.
// An auth rejection clears the token and profile atomically. A transport
// failure keeps the token so the user can simply retry; only the error
// is surfaced.
func (s *Session) FetchProfile(ctx context.Context) error {
	if s.token == "" {
		return api.ErrUnauthorized
	}

	profile, err := s.client.Me(ctx, s.token)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			s.token = ""
			s.user = nil
			if clearErr := s.storage.Clear(); clearErr != nil {
				return fmt.Errorf("%w (token cleanup error: %s)", err, clearErr)
			}
		}
		return err
	}

	s.user = profile
	return nil
}

// UpdateAPIKey sends the new Gemini key to the backend and refreshes the
// cached profile with exactly one follow-up fetch. Key format is the
// backend's business; nothing is validated locally.
func (s *Session) UpdateAPIKey(ctx context.Context, apiKey string) error {
	if err := s.client.UpdateAPIKey(ctx, s.token, apiKey); err != nil {
		return err
	}
	return s.FetchProfile(ctx)
}
