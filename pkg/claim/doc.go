// Package claim implements the one-time exchange of a device identity
// for cloud session credentials ("claiming").
//
// The claim service issues a challenge, the device answers with a proof
// derived from its hardware secret, and on success receives the broker
// endpoint plus a client certificate and key. The received material is
// written to persistent storage under storage.KeyCredentials, where the
// agent reloads it before opening the messaging session.
//
// Claiming is invoked at most once per agent start, and only when no
// credentials are stored.
package claim
