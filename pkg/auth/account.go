// Package auth stores and resolves API credentials.
//
// Credentials live in a store chain: the system keyring when available,
// an encrypted file under the user config directory, and environment
// variables as a read-only last resort. Auth rejections from the API are
// terminal for a run, so the CLI resolves and applies credentials before
// any fetching starts.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"mediafetch/pkg/client"
)

// Account holds one set of API credentials.
type Account struct {
	Handle       string    `json:"handle"`
	SessionID    string    `json:"session_id"`
	CSRFToken    string    `json:"csrf_token"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// ApplyTo installs the account's credentials on a session. Only the
// metadata API sees these headers; asset transfers stay anonymous.
func (a *Account) ApplyTo(s *client.Session) {
	s.SetHeader("Cookie", fmt.Sprintf("sessionid=%s; csrftoken=%s", a.SessionID, a.CSRFToken))
	s.SetHeader("X-CSRFToken", a.CSRFToken)
	if a.UserAgent != "" {
		s.SetHeader("User-Agent", a.UserAgent)
	}
}

// Store persists accounts keyed by handle.
type Store interface {
	Store(account *Account) error
	Retrieve(handle string) (*Account, error)
	List() ([]*Account, error)
	Delete(handle string) error
	Exists(handle string) bool
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)

// Manager fronts the store chain. Writes go to the first store that
// accepts them; reads take the first hit.
type Manager struct {
	stores []Store
}

// NewManager builds the default chain: keyring, encrypted file,
// environment.
func NewManager() (*Manager, error) {
	var stores []Store

	if ks, err := NewKeyringStore(); err == nil {
		stores = append(stores, ks)
	}

	configDir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	enc, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted store: %w", err)
	}
	stores = append(stores, enc)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores builds a manager over an explicit chain.
func NewManagerWithStores(stores ...Store) *Manager {
	return &Manager{stores: stores}
}

// Store validates and persists an account.
func (m *Manager) Store(account *Account) error {
	if account.Handle == "" {
		return fmt.Errorf("%w: handle is required", ErrInvalidCredentials)
	}
	if account.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidCredentials)
	}
	if account.CSRFToken == "" {
		return fmt.Errorf("%w: csrf token is required", ErrInvalidCredentials)
	}
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve returns the account for a handle from the first store holding it.
func (m *Manager) Retrieve(handle string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(handle); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for %q", ErrCredentialsNotFound, handle)
}

// RetrieveDefault returns environment credentials when present, otherwise
// the most recently stored account.
func (m *Manager) RetrieveDefault() (*Account, error) {
	if env, ok := m.stores[len(m.stores)-1].(*EnvironmentStore); ok {
		if account, err := env.Retrieve(""); err == nil {
			return account, nil
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}
	return nil, ErrCredentialsNotFound
}

// List merges accounts across stores; the most recently modified version
// of each handle wins.
func (m *Manager) List() ([]*Account, error) {
	byHandle := make(map[string]*Account)
	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if prev, ok := byHandle[account.Handle]; !ok || account.LastModified.After(prev.LastModified) {
				byHandle[account.Handle] = account
			}
		}
	}

	result := make([]*Account, 0, len(byHandle))
	for _, account := range byHandle {
		result = append(result, account)
	}
	return result, nil
}

// Delete removes a handle's credentials from every store holding them.
func (m *Manager) Delete(handle string) error {
	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(handle); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}
	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w for %q", ErrCredentialsNotFound, handle)
}

// Sanitized returns a display copy with secrets masked.
func (a *Account) Sanitized() *Account {
	return &Account{
		Handle:       a.Handle,
		SessionID:    mask(a.SessionID),
		CSRFToken:    mask(a.CSRFToken),
		UserAgent:    a.UserAgent,
		LastModified: a.LastModified,
	}
}

func mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// configDir resolves the per-user configuration directory, creating it on
// first use.
func configDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "mediafetch")
	case "windows":
		dir = filepath.Join(os.Getenv("APPDATA"), "mediafetch")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "mediafetch")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".config", "mediafetch")
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}
