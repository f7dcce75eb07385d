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

	"github.com/and161185/fitsync/internal/model"
)

// StoredSession is what survives a process restart.
type StoredSession struct {
	AccessToken string         `json:"access_token"`
	ExpiresAt   time.Time      `json:"expires_at"`
	AuthTime    time.Time      `json:"auth_time"`
	Account     model.Identity `json:"account"`
}

// TokenStore keeps the access token in memory and, when dir is set, in dir/token.json.
// It also attaches the token to outgoing RPCs as grpc PerRPCCredentials.
type TokenStore struct {
	mu         sync.RWMutex
	dir        string
	cur        *StoredSession
	requireTLS bool
}

// NewTokenStore returns a store persisting under dir. An empty dir keeps the token in memory only.
func NewTokenStore(dir string, requireTLS bool) *TokenStore {
	return &TokenStore{dir: dir, requireTLS: requireTLS}
}

func (s *TokenStore) path() string { return filepath.Join(s.dir, "token.json") }

// Load reads the persisted session. It returns nil without error when there is none.
func (s *TokenStore) Load() (*StoredSession, error) {
	if s.dir == "" {
		return s.Current(), nil
	}
	b, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var st StoredSession
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if st.AccessToken == "" {
		return nil, nil
	}
	s.mu.Lock()
	s.cur = &st
	s.mu.Unlock()
	return &st, nil
}

// Save replaces the current session and persists it.
func (s *TokenStore) Save(st StoredSession) error {
	s.mu.Lock()
	s.cur = &st
	s.mu.Unlock()
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Rename(tmp, s.path())
}

// Clear drops the session from memory and disk.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()
	if s.dir == "" {
		return nil
	}
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Current returns a copy of the in-memory session or nil.
func (s *TokenStore) Current() *StoredSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return nil
	}
	cp := *s.cur
	return &cp
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (s *TokenStore) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	cur := s.Current()
	if cur == nil {
		return map[string]string{}, nil
	}
	return map[string]string{"authorization": "Bearer " + cur.AccessToken}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (s *TokenStore) RequireTransportSecurity() bool { return s.requireTLS }
