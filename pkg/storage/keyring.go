package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the identifier used for all promoflow credentials in the system keyring.
	ServiceName = "promoflow"

	// SecretPrefix marks a configuration value that names a stored credential.
	SecretPrefix = "keyring:"

	indexKey = "__promoflow_index__"
)

// ErrCredentialNotFound is returned when no credential exists under a key.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialStore defines the interface for secure credential storage.
type CredentialStore interface {
	Set(key string, value string) error
	Get(key string) (string, error)
	Delete(key string) error
	// List returns all credential keys (not the values)
	List() ([]string, error)
}

// KeyringCredentialStore implements CredentialStore using the system keyring.
// - macOS: Uses Keychain
// - Windows: Uses Credential Manager
// - Linux: Uses Secret Service (GNOME Keyring, KWallet)
type KeyringCredentialStore struct {
	service string
}

// NewKeyringCredentialStore creates a new keyring-based credential store.
func NewKeyringCredentialStore() *KeyringCredentialStore {
	return &KeyringCredentialStore{
		service: ServiceName,
	}
}

// Set stores a credential. The key is the account name, value the password.
func (s *KeyringCredentialStore) Set(key string, value string) error {
	if err := checkCredentialKey(key); err != nil {
		return err
	}

	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	if err := s.addToIndex(key); err != nil {
		return fmt.Errorf("credential stored but index update failed: %w", err)
	}
	return nil
}

// Get retrieves a credential.
func (s *KeyringCredentialStore) Get(key string) (string, error) {
	if err := checkCredentialKey(key); err != nil {
		return "", err
	}

	value, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
		}
		return "", fmt.Errorf("failed to retrieve credential: %w", err)
	}
	return value, nil
}

// Delete removes a credential.
func (s *KeyringCredentialStore) Delete(key string) error {
	if err := checkCredentialKey(key); err != nil {
		return err
	}

	if err := keyring.Delete(s.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	if err := s.removeFromIndex(key); err != nil {
		return fmt.Errorf("credential deleted but index update failed: %w", err)
	}
	return nil
}

// List returns the stored credential keys in sorted order. The keyring has
// no enumeration API, so keys are tracked in an index entry.
func (s *KeyringCredentialStore) List() ([]string, error) {
	indexJSON, err := keyring.Get(s.service, indexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to retrieve credential index: %w", err)
	}

	var keys []string
	if err := json.Unmarshal([]byte(indexJSON), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse credential index: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Resolve returns value unchanged unless it has the keyring: prefix, in which
// case the named credential is returned.
func (s *KeyringCredentialStore) Resolve(value string) (string, error) {
	name, ok := strings.CutPrefix(value, SecretPrefix)
	if !ok {
		return value, nil
	}
	return s.Get(strings.TrimSpace(name))
}

func (s *KeyringCredentialStore) addToIndex(key string) error {
	keys, err := s.List()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return s.saveIndex(append(keys, key))
}

func (s *KeyringCredentialStore) removeFromIndex(key string) error {
	keys, err := s.List()
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != key {
			kept = append(kept, k)
		}
	}
	return s.saveIndex(kept)
}

func (s *KeyringCredentialStore) saveIndex(keys []string) error {
	indexJSON, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to marshal credential index: %w", err)
	}
	if err := keyring.Set(s.service, indexKey, string(indexJSON)); err != nil {
		return fmt.Errorf("failed to save credential index: %w", err)
	}
	return nil
}

func checkCredentialKey(key string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	if key == indexKey {
		return fmt.Errorf("credential key %q is reserved", key)
	}
	return nil
}
