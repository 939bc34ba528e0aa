package auth

import "os"

const envAccountName = "env"

// EnvironmentStore exposes a single read-only account built from
// VKCRAWLER_REMIXSID and VKCRAWLER_USER_AGENT.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	sid := os.Getenv("VKCRAWLER_REMIXSID")
	if sid == "" || (name != "" && name != envAccountName) {
		return nil, ErrCredentialsNotFound
	}
	// LastModified stays zero so a persisted account of the same name wins in List
	return &Account{
		Name:      envAccountName,
		RemixSID:  sid,
		UserAgent: os.Getenv("VKCRAWLER_USER_AGENT"),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
