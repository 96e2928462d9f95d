package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// Common errors for key management.
var (
	// ErrKeyNotFound indicates that the key does not exist in the store.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyEmpty indicates that an empty key was supplied where one
	// is required.
	ErrKeyEmpty = errors.New("api key is empty")

	// ErrNoFields indicates that an update carried no fields to apply.
	ErrNoFields = errors.New("no fields to update")
)

// Record is the canonical API key shape persisted in the store.
// Key is unique and, once created, immutable.
type Record struct {
	Key     string `json:"key"`
	AppName string `json:"appName"`
	Website string `json:"website"`
	Email   string `json:"email"`
	Tier    int    `json:"tier"`
	Active  bool   `json:"active"`
}

// Entity is an immutable read view of a validated API key, constructed
// from either a store row or a cached JSON blob. A changed key produces
// a new Entity; instances are never mutated after construction.
type Entity struct {
	Key     string `json:"key"`
	AppName string `json:"appName"`
	Website string `json:"website"`
	Email   string `json:"email"`
	Tier    int    `json:"tier"`
	Active  bool   `json:"active"`
}

// Entity returns the read view of the record.
func (r *Record) Entity() *Entity {
	return &Entity{
		Key:     r.Key,
		AppName: r.AppName,
		Website: r.Website,
		Email:   r.Email,
		Tier:    r.Tier,
		Active:  r.Active,
	}
}

// marshalEntity serializes an entity for the distributed cache.
func marshalEntity(e *Entity) ([]byte, error) {
	return json.Marshal(e)
}

// unmarshalEntity deserializes a distributed cache value.
func unmarshalEntity(data []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Fields describes a partial update. Nil members are left untouched in
// the store.
type Fields struct {
	AppName *string
	Website *string
	Email   *string
	Tier    *int
	Active  *bool
}

// IsEmpty returns true when no field is set.
func (f Fields) IsEmpty() bool {
	return f.AppName == nil && f.Website == nil && f.Email == nil &&
		f.Tier == nil && f.Active == nil
}

// DeriveKey deterministically derives a key from a business identity.
// Repeated derivation for the same (email, website) pair yields the same
// key, which makes creation without an explicit key idempotent.
func DeriveKey(email, website string) string {
	sum := sha256.Sum256([]byte(email + "\n" + website))
	return hex.EncodeToString(sum[:])
}
