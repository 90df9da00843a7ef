package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringPrefix = "source_"

// KeyringStore implements TokenStore using the system keychain
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keyring-backed store, failing when no keychain
// is reachable (typical on headless hosts without a secret service).
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		service = "reprocessor"
	}
	testKey := "test_availability"
	if err := keyring.Set(service, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(service, testKey)

	return &KeyringStore{service: service}, nil
}

// Store saves the token to the system keychain
func (k *KeyringStore) Store(name, token string) error {
	if name == "" {
		return ErrInvalidToken
	}
	if err := keyring.Set(k.service, keyringPrefix+name, token); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// Retrieve gets the token from the system keychain
func (k *KeyringStore) Retrieve(name string) (string, error) {
	if name == "" {
		return "", ErrInvalidToken
	}
	token, err := keyring.Get(k.service, keyringPrefix+name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("failed to retrieve from keyring: %w", err)
	}
	return token, nil
}

// Delete removes the token from the system keychain
func (k *KeyringStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidToken
	}
	if err := keyring.Delete(k.service, keyringPrefix+name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
