package controller

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coffersTech/nanosearch/internal/pkg/security"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Roles.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleViewer     = "viewer"
)

// Token types. Write tokens may ingest, read tokens may search and explain.
const (
	TokenWrite = "write"
	TokenRead  = "read"
)

var (
	ErrAlreadyInitialized = errors.New("system already initialized")
	ErrNotInitialized     = errors.New("system not initialized")
	ErrExists             = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrBadCredentials     = errors.New("invalid username or password")
	ErrInvalidTokenType   = errors.New("token type must be read or write")
)

// User represents a system user profile.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"` // bcrypt hashed
	Role         string `json:"role"`
	CreatedAt    int64  `json:"created_at"`
}

// APIToken is a machine-to-machine access key.
type APIToken struct {
	ID        string `json:"id"`
	Name      string `json:"name"` // e.g. "crawler"
	Token     string `json:"token"`
	Type      string `json:"type"` // TokenWrite or TokenRead
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
}

// Config holds settings changed at runtime through the API.
type Config struct {
	Retention string `json:"retention"` // e.g. "168h", "0" keeps everything
}

// MetaData is the top-level container for system metadata.
type MetaData struct {
	Initialized bool       `json:"initialized"`
	Users       []User     `json:"users"`
	Tokens      []APIToken `json:"tokens"`
	Config      Config     `json:"config"`
}

// Store keeps MetaData in memory and persists it encrypted with the master key.
type Store struct {
	filePath string
	key      []byte

	mu   sync.RWMutex
	data MetaData
}

// NewStore creates a store backed by filePath. Call Load to read it.
func NewStore(filePath string, key []byte) *Store {
	return &Store{
		filePath: filePath,
		key:      key,
		data: MetaData{
			Users:  []User{},
			Tokens: []APIToken{},
			Config: Config{Retention: "168h"},
		},
	}
}

// Load reads metadata from disk. A missing or empty file leaves the store
// uninitialized.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(sealed) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	plain, err := security.Decrypt(s.key, sealed)
	if err != nil {
		return fmt.Errorf("decrypt metadata (wrong key or corrupted file): %w", err)
	}
	if err := json.Unmarshal(plain, &s.data); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}

// saveLocked encrypts and writes metadata. Caller holds mu.
func (s *Store) saveLocked() error {
	plain, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	sealed, err := security.Encrypt(s.key, plain)
	if err != nil {
		return fmt.Errorf("encrypt metadata: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

// IsInitialized returns the initialization status.
func (s *Store) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Initialized
}

// Config returns the current runtime configuration.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Config
}

// InitializeSystem creates the first super_admin user.
func (s *Store) InitializeSystem(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Initialized {
		return ErrAlreadyInitialized
	}
	u, err := newUser(username, password, RoleSuperAdmin)
	if err != nil {
		return err
	}
	s.data.Users = append(s.data.Users, u)
	s.data.Initialized = true
	return s.saveLocked()
}

func newUser(username, password, role string) (User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return User{}, ErrBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().Unix(),
	}, nil
}

// AddUser creates a user with the given password and role.
func (s *Store) AddUser(username, password, role string) error {
	u, err := newUser(username, password, role)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.data.Users, func(e User) bool { return strings.EqualFold(e.Username, username) }) {
		return fmt.Errorf("user %s: %w", username, ErrExists)
	}
	s.data.Users = append(s.data.Users, u)
	return s.saveLocked()
}

// GetUser returns a user by username (case-insensitive).
func (s *Store) GetUser(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.data.Users {
		if strings.EqualFold(u.Username, username) {
			return u, true
		}
	}
	return User{}, false
}

// Authenticate checks a username and password.
func (s *Store) Authenticate(username, password string) (User, error) {
	u, ok := s.GetUser(username)
	if !ok {
		return User{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// AddToken creates an API token of type typ and returns it with its secret.
func (s *Store) AddToken(name, typ, createdBy string) (APIToken, error) {
	if typ != TokenWrite && typ != TokenRead {
		return APIToken{}, ErrInvalidTokenType
	}
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return APIToken{}, err
	}
	t := APIToken{
		ID:        uuid.NewString(),
		Name:      name,
		Token:     "sk-" + hex.EncodeToString(secret),
		Type:      typ,
		CreatedBy: createdBy,
		CreatedAt: time.Now().Unix(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.data.Initialized {
		return APIToken{}, ErrNotInitialized
	}
	s.data.Tokens = append(s.data.Tokens, t)
	if err := s.saveLocked(); err != nil {
		return APIToken{}, err
	}
	return t, nil
}

// Tokens lists API tokens with their secrets masked.
func (s *Store) Tokens() []APIToken {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]APIToken, len(s.data.Tokens))
	for i, t := range s.data.Tokens {
		t.Token = maskToken(t.Token)
		out[i] = t
	}
	return out
}

func maskToken(tok string) string {
	if len(tok) <= 7 {
		return "****"
	}
	return tok[:7] + "****"
}

// DeleteToken removes a token by ID.
func (s *Store) DeleteToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.data.Tokens, func(t APIToken) bool { return t.ID == id })
	if i < 0 {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	s.data.Tokens = slices.Delete(s.data.Tokens, i, i+1)
	return s.saveLocked()
}

// GetTokenByValue finds a token by its secret value.
func (s *Store) GetTokenByValue(val string) (APIToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.data.Tokens {
		if t.Token == val {
			return t, true
		}
	}
	return APIToken{}, false
}

// UpdateConfig validates and stores cfg.
func (s *Store) UpdateConfig(cfg Config) error {
	if _, err := ParseRetention(cfg.Retention); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Config = cfg
	return s.saveLocked()
}

// ParseRetention parses a retention duration; "" and "0" mean keep forever.
func ParseRetention(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid retention %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid retention %q: negative", s)
	}
	return d, nil
}
