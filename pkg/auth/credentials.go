package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TokenStore keeps bearer tokens for remote record sources, keyed by name.
type TokenStore interface {
	// Store saves the token for name
	Store(name, token string) error
	// Retrieve returns ErrTokenNotFound when nothing is stored for name
	Retrieve(name string) (string, error)
	// Delete removes the token for name
	Delete(name string) error
}

// Manager handles token storage with fallback mechanisms
type Manager struct {
	stores []TokenStore
}

// NewManager creates a manager that tries the system keychain, then an
// encrypted file under configDir, then the environment.
func NewManager(service, configDir string) (*Manager, error) {
	var stores []TokenStore

	if keyringStore, err := NewKeyringStore(service); err == nil {
		stores = append(stores, keyringStore)
	}

	if configDir == "" {
		dir, err := defaultConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		configDir = dir
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "tokens.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores builds a manager over explicit stores, in priority order.
func NewManagerWithStores(stores ...TokenStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the token using the first store that accepts it
func (m *Manager) Store(name, token string) error {
	if name == "" {
		return ErrInvalidToken
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(name, token)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store token: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the token from the first store that has it
func (m *Manager) Retrieve(name string) (string, error) {
	for _, store := range m.stores {
		if token, err := store.Retrieve(name); err == nil && token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrTokenNotFound, name)
}

// Delete removes the token from all stores
func (m *Manager) Delete(name string) error {
	deleted := false
	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return fmt.Errorf("%w for %s", ErrTokenNotFound, name)
	}
	return nil
}

// ResolveToken returns explicit when set, otherwise the stored token for
// name. A missing token is not an error: sources may be unauthenticated.
func ResolveToken(m *Manager, explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	if m == nil || name == "" {
		return ""
	}
	token, err := m.Retrieve(name)
	if err != nil {
		return ""
	}
	return token
}

func defaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "reprocessor")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// MaskToken masks all but the first 4 and last 4 characters of a token
func MaskToken(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("token store unavailable")
)
