package auth

import "sync"

// MockStore implements TokenStore in memory for tests
type MockStore struct {
	tokens map[string]string
	mu     sync.RWMutex

	// Error injection for testing
	StoreError    error
	RetrieveError error
}

// NewMockStore creates a new mock token store
func NewMockStore() *MockStore {
	return &MockStore{tokens: make(map[string]string)}
}

// Store saves the token
func (m *MockStore) Store(name, token string) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[name] = token
	return nil
}

// Retrieve gets the token
func (m *MockStore) Retrieve(name string) (string, error) {
	if m.RetrieveError != nil {
		return "", m.RetrieveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[name]
	if !ok {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// Delete removes the token
func (m *MockStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[name]; !ok {
		return ErrTokenNotFound
	}
	delete(m.tokens, name)
	return nil
}

// Count returns the number of stored tokens
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}
