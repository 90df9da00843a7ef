package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnvVar overrides the generated key file.
const PassphraseEnvVar = "REPROCESSOR_PASSPHRASE"

const (
	vaultVersion  = 1
	saltLen       = 32
	keyLen        = 32
	kdfIterations = 100_000
)

// EncryptedFileStore keeps tokens in one AES-GCM sealed JSON file. The key is
// derived with PBKDF2 from PassphraseEnvVar or from a random passphrase kept
// in "<file>.key" with mode 0600.
type EncryptedFileStore struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
}

// vaultFile is the on-disk envelope. Byte fields are base64 in JSON.
type vaultFile struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Sealed  []byte `json:"sealed"`
}

// NewEncryptedFileStore opens the vault at path, creating its directory and
// key file when needed. The vault itself is written on first Store.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}
	pass, err := loadPassphrase(path + ".key")
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: pass}, nil
}

func (e *EncryptedFileStore) Store(name, token string) error {
	if name == "" {
		return ErrInvalidToken
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, salt, err := e.read()
	if err != nil {
		return err
	}
	tokens[name] = token
	return e.write(tokens, salt)
}

func (e *EncryptedFileStore) Retrieve(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, _, err := e.read()
	if err != nil {
		return "", err
	}
	token, ok := tokens[name]
	if !ok {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// Delete removes name. The vault file goes away with its last token.
func (e *EncryptedFileStore) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, salt, err := e.read()
	if err != nil {
		return err
	}
	if _, ok := tokens[name]; !ok {
		return ErrTokenNotFound
	}
	delete(tokens, name)
	if len(tokens) == 0 {
		return os.Remove(e.path)
	}
	return e.write(tokens, salt)
}

// read returns the decrypted tokens and the vault salt. A missing vault
// reads as empty with a nil salt.
func (e *EncryptedFileStore) read() (map[string]string, []byte, error) {
	raw, err := os.ReadFile(e.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read token vault: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, nil, fmt.Errorf("parse token vault: %w", err)
	}
	if vf.Version != vaultVersion {
		return nil, nil, fmt.Errorf("unsupported token vault version %d", vf.Version)
	}

	plain, err := open(e.key(vf.Salt), vf.Sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt token vault: %w", err)
	}
	tokens := map[string]string{}
	if err := json.Unmarshal(plain, &tokens); err != nil {
		return nil, nil, fmt.Errorf("parse token vault: %w", err)
	}
	return tokens, vf.Salt, nil
}

// write seals tokens under salt, generating one for a new vault, and
// replaces the file atomically.
func (e *EncryptedFileStore) write(tokens map[string]string, salt []byte) error {
	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generate salt: %w", err)
		}
	}
	plain, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	sealed, err := seal(e.key(salt), plain)
	if err != nil {
		return fmt.Errorf("encrypt token vault: %w", err)
	}
	out, err := json.MarshalIndent(vaultFile{Version: vaultVersion, Salt: salt, Sealed: sealed}, "", "  ")
	if err != nil {
		return err
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("write token vault: %w", err)
	}
	return os.Rename(tmp, e.path)
}

func (e *EncryptedFileStore) key(salt []byte) []byte {
	return pbkdf2.Key(e.passphrase, salt, kdfIterations, keyLen, sha256.New)
}

func loadPassphrase(keyFile string) ([]byte, error) {
	if pass := os.Getenv(PassphraseEnvVar); pass != "" {
		return []byte(pass), nil
	}
	if pass, err := os.ReadFile(keyFile); err == nil && len(pass) > 0 {
		return pass, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate passphrase: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(buf))
	if err := os.WriteFile(keyFile, pass, 0600); err != nil {
		return nil, fmt.Errorf("save passphrase: %w", err)
	}
	return pass, nil
}

// seal returns nonce || ciphertext.
func seal(key, plain []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plain)+gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("sealed data too short")
	}
	return gcm.Open(nil, sealed[:n], sealed[n:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
