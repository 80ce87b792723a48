// Package session defines the messaging-session contract between the
// agent and its cloud backend, plus the credential material needed to
// open one.
//
// The agent drives a session through the narrow Session interface:
// Configure with credentials, Connect, Publish/Subscribe while open,
// Disconnect on shutdown. Wire-level framing and broker semantics are
// a transport concern and live behind the interface.
//
// Credentials are stored as a compact CBOR blob (see EncodeCredentials)
// so the at-rest format is stable across firmware versions.
//
// The in-memory Broker and its loopback sessions implement the contract
// for tests and the reference binary.
package session
