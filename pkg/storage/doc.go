// Package storage provides the persistent key-value store used by the
// agent for its node identity and session credentials.
//
// The agent only depends on the Store contract; the bundled FileStore
// persists to a single JSON file and is suitable for Linux-class
// devices, while MemStore backs tests.
package storage
