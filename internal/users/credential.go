package users

import (
	"context"
	"errors"
)

var (
	ErrUsernameTaken = errors.New("username already exists")
	ErrStoreCorrupt  = errors.New("credentials store corrupt")
)

// Credential is one registered user. The JSON names match the users.json
// files written by earlier deployments.
type Credential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password"`
}

// UpdateFunc receives the current records and returns the records to persist.
// Returning an error aborts the update and nothing is written.
type UpdateFunc func(records []Credential) ([]Credential, error)

// Store is the durable username -> password hash mapping.
type Store interface {
	// Load returns all records; a missing or unreadable store yields an empty slice.
	Load(ctx context.Context) []Credential
	// Save atomically replaces the whole store with records.
	Save(ctx context.Context, records []Credential) error
	// Update runs a load-modify-save cycle under the store's single-writer lock.
	Update(ctx context.Context, fn UpdateFunc) error
}

// Find returns the record with exactly the given username.
func Find(records []Credential, username string) (Credential, bool) {
	for _, r := range records {
		if r.Username == username {
			return r, true
		}
	}
	return Credential{}, false
}
