package auth

import "os"

// TokenEnvVar holds a source token for hosts without a keychain.
const TokenEnvVar = "REPROCESSOR_SOURCE_TOKEN"

// EnvironmentStore is a read-only TokenStore backed by TokenEnvVar. The
// same token is returned for every name.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based token store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(name, token string) error {
	return ErrStoreUnavailable
}

// Retrieve returns the token from the environment
func (e *EnvironmentStore) Retrieve(name string) (string, error) {
	if token := os.Getenv(TokenEnvVar); token != "" {
		return token, nil
	}
	return "", ErrTokenNotFound
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}
