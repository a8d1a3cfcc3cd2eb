package auth

import (
	"os"
	"time"
)

// Environment variable names read by EnvironmentStore.
const (
	envSessionID = "MEDIAFETCH_SESSION_ID"
	envCSRFToken = "MEDIAFETCH_CSRF_TOKEN"
	envUserAgent = "MEDIAFETCH_SESSION_USER_AGENT"
)

// EnvironmentStore resolves credentials from environment variables. It is
// read-only and serves headless deployments (CI, containers).
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is unsupported: the process cannot usefully mutate its parent's
// environment.
func (e *EnvironmentStore) Store(*Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds an account from the environment. The environment has no
// handle of its own, so an empty handle maps to "default".
func (e *EnvironmentStore) Retrieve(handle string) (*Account, error) {
	sessionID := os.Getenv(envSessionID)
	csrfToken := os.Getenv(envCSRFToken)
	if sessionID == "" || csrfToken == "" {
		return nil, ErrCredentialsNotFound
	}
	if handle == "" {
		handle = "default"
	}
	return &Account{
		Handle:       handle,
		SessionID:    sessionID,
		CSRFToken:    csrfToken,
		UserAgent:    os.Getenv(envUserAgent),
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

func (e *EnvironmentStore) Delete(string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(string) bool {
	return os.Getenv(envSessionID) != "" && os.Getenv(envCSRFToken) != ""
}
