// Package storage contains the KeyValue interface for working with a
// persistent key/value store, an implementation for BadgerDB, and a no-op
// implementation for when persistence is turned off. On top of these sits
// the Journal, our record of messages the SMTP server has accepted.
//
// The KeyValue layer deals only in opaque binary data. Only the Journal
// knows what's stored.
package storage
