package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound means no entry exists for the key, or it has expired.
var ErrNotFound = errors.New("entry not found")

// Entries live this long if keyTTL isn't set.
const defaultKeyTTL = 90 * 24 * time.Hour

// KVConfig contains settings specific to BadgerDB connections. An empty
// StorageDirPath turns persistence off.
type KVConfig struct {
	StorageDirPath string        `yaml:"storageDir" json:"storageDir"`
	KeyTTLDuration time.Duration `yaml:"keyTTL" json:"keyTTL"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface. Validation is
// performed here.
func (c *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the journal config: %v", err)
	}

	c.StorageDirPath = v["storageDir"]

	if t, ok := v["keyTTL"]; ok {
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("can't parse the key TTL as a duration: %v", err)
		}
		c.KeyTTLDuration = d
	}

	return nil
}

// CheckAndSetDefaults validates c and either returns a copy of c with default
// settings applied or returns an error due to an invalid configuration
func (c *KVConfig) CheckAndSetDefaults() (KVConfig, error) {
	n := *c
	if n.KeyTTLDuration < 0 {
		return KVConfig{}, errors.New("the key TTL can't be negative")
	}
	if n.KeyTTLDuration == 0 {
		n.KeyTTLDuration = defaultKeyTTL
	}
	return n, nil
}

// KeyValue exposes a common interface for performing CRUD operations on an
// underlying storage layer.
//
// Implentations need to include connection logic in code to initialize
// a Store.
type KeyValue interface {
	// Replace the value of an entry or create a new one if it doesn't exist
	Put(KVEntry) error
	// Return an entry given its key. Missing keys return ErrNotFound.
	Read(key []byte) (KVEntry, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
}
