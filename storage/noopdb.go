package storage

import "errors"

// NoOpDB backs a Journal when no storage directory is configured. Sends
// still go out; nothing about them is remembered.
//
// Put fails so a caller never believes a record was kept. Read reports
// ErrNotFound. Cleanup and Close have nothing to release and always
// succeed.
type NoOpDB struct{}

// Put refuses every entry.
func (n *NoOpDB) Put(KVEntry) error {
	return errors.New("the journal has no storage directory, so nothing was recorded")
}

// Read finds nothing.
func (n *NoOpDB) Read(key []byte) (KVEntry, error) {
	return KVEntry{}, ErrNotFound
}

func (n *NoOpDB) Cleanup() error {
	return nil
}

func (n *NoOpDB) Close() error {
	return nil
}
