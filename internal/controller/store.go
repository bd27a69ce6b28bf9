package controller

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/security"
)

// SecretPrefix starts every API token secret.
const SecretPrefix = "qlk-"

var ErrTokenNotFound = errors.New("token not found")

// APIToken represents an access key for the HTTP API. Only a bcrypt hash of
// the secret is stored.
type APIToken struct {
	ID        string `json:"id"`     // UUID
	Name      string `json:"name"`   // e.g. "editor frontend"
	Prefix    string `json:"prefix"` // first characters of the secret, for display
	Hash      string `json:"hash"`
	CreatedAt int64  `json:"created_at"`
}

// MetaData is the top-level container persisted by the Store.
type MetaData struct {
	Tokens []APIToken `json:"tokens"`
}

// Store handles the persistence and in-memory management of API tokens.
type Store struct {
	filePath string
	key      security.Key // nil stores plain JSON
	mu       sync.RWMutex
	data     *MetaData

	// verified caches secrets already checked against a hash, by token ID
	verified map[string]string
}

// NewStore creates a token store backed by filePath. When key is non-nil the
// file is sealed with it.
func NewStore(filePath string, key security.Key) *Store {
	return &Store{
		filePath: filePath,
		key:      key,
		data:     &MetaData{Tokens: make([]APIToken, 0)},
		verified: make(map[string]string),
	}
}

// Load reads tokens from disk. A missing file is an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	if s.key != nil {
		if raw, err = s.key.Decrypt(raw); err != nil {
			return fmt.Errorf("decrypt token store (invalid key or corrupted file): %w", err)
		}
	}

	data := &MetaData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("parse token store: %w", err)
	}
	if data.Tokens == nil {
		data.Tokens = make([]APIToken, 0)
	}
	s.data = data
	s.verified = make(map[string]string)
	return nil
}

// saveLocked writes tokens to disk.
func (s *Store) saveLocked() error {
	out, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if s.key != nil {
		if out, err = s.key.Encrypt(out); err != nil {
			return err
		}
	}
	return os.WriteFile(s.filePath, out, 0600)
}

// Create issues a new token and returns its secret, which is not
// recoverable afterwards.
func (s *Store) Create(name string) (string, APIToken, error) {
	secretBytes := make([]byte, 16)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", APIToken{}, err
	}
	secret := SecretPrefix + hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", APIToken{}, err
	}

	t := APIToken{
		ID:        uuid.NewString(),
		Name:      name,
		Prefix:    secret[:len(SecretPrefix)+6],
		Hash:      string(hash),
		CreatedAt: time.Now().Unix(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Tokens = append(s.data.Tokens, t)
	if err := s.saveLocked(); err != nil {
		s.data.Tokens = s.data.Tokens[:len(s.data.Tokens)-1]
		return "", APIToken{}, err
	}
	return secret, t, nil
}

// List returns a copy of all tokens.
func (s *Store) List() []APIToken {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]APIToken, len(s.data.Tokens))
	copy(out, s.data.Tokens)
	return out
}

// Len returns the number of tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Tokens)
}

// Revoke removes a token by ID or by ID prefix when unambiguous.
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, t := range s.data.Tokens {
		if t.ID == id {
			idx = i
			break
		}
		if id != "" && strings.HasPrefix(t.ID, id) {
			if idx >= 0 {
				return fmt.Errorf("ambiguous token id %q", id)
			}
			idx = i
		}
	}
	if idx < 0 {
		return ErrTokenNotFound
	}

	delete(s.verified, s.data.Tokens[idx].ID)
	s.data.Tokens = append(s.data.Tokens[:idx], s.data.Tokens[idx+1:]...)
	return s.saveLocked()
}

// Authenticate finds the token whose hash matches secret.
func (s *Store) Authenticate(secret string) (APIToken, bool) {
	if !strings.HasPrefix(secret, SecretPrefix) {
		return APIToken{}, false
	}

	s.mu.RLock()
	for _, t := range s.data.Tokens {
		if cached, ok := s.verified[t.ID]; ok && cached == secret {
			s.mu.RUnlock()
			return t, true
		}
	}
	candidates := make([]APIToken, 0, 1)
	for _, t := range s.data.Tokens {
		if strings.HasPrefix(secret, t.Prefix) {
			candidates = append(candidates, t)
		}
	}
	s.mu.RUnlock()

	for _, t := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(secret)) == nil {
			s.mu.Lock()
			s.verified[t.ID] = secret
			s.mu.Unlock()
			return t, true
		}
	}
	return APIToken{}, false
}
