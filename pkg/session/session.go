package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Session errors.
var (
	ErrNotConfigured    = errors.New("session not configured")
	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrInvalidConfig    = errors.New("invalid session configuration")
)

// CredentialsVersion is the current version of the credentials blob.
const CredentialsVersion = 1

// Credentials is the session credential material produced by claiming
// (or pre-provisioned at manufacture).
type Credentials struct {
	// Version of the credentials blob format.
	Version int `cbor:"1,keyasint"`

	// Endpoint is the broker endpoint (host:port).
	Endpoint string `cbor:"2,keyasint"`

	// ClientCert is the PEM-encoded client certificate.
	ClientCert []byte `cbor:"3,keyasint"`

	// ClientKey is the PEM-encoded client private key.
	ClientKey []byte `cbor:"4,keyasint"`

	// ServerCA is the PEM-encoded CA bundle for server verification.
	ServerCA []byte `cbor:"5,keyasint,omitempty"`
}

// Validate checks the credentials are usable.
func (c *Credentials) Validate() error {
	if c.Endpoint == "" {
		return ErrInvalidConfig
	}
	if len(c.ClientCert) == 0 || len(c.ClientKey) == 0 {
		return ErrInvalidConfig
	}
	return nil
}

// encMode is the CBOR encoder mode for credential blobs.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for credential blobs.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// EncodeCredentials encodes credentials to their at-rest CBOR form.
// The blob is stamped with CredentialsVersion; c is not modified.
func EncodeCredentials(c *Credentials) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	stamped := *c
	stamped.Version = CredentialsVersion
	return encMode.Marshal(&stamped)
}

// DecodeCredentials decodes a stored credentials blob.
func DecodeCredentials(data []byte) (*Credentials, error) {
	c := &Credentials{}
	if err := decMode.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Config configures a messaging session.
type Config struct {
	// ClientID identifies this device to the broker (the node ID).
	ClientID string

	// Credentials is the credential material for the connection.
	Credentials *Credentials
}

// Validate checks the session config is usable.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return ErrInvalidConfig
	}
	if c.Credentials == nil {
		return ErrInvalidConfig
	}
	return c.Credentials.Validate()
}

// MessageHandler receives messages for a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Session is the messaging-session contract consumed by the agent.
//
// Implementations must be safe for use from the single owner goroutine;
// Connected must be safe from any goroutine.
type Session interface {
	// Configure sets the connection parameters. Must be called before
	// Connect and must not be called while connected.
	Configure(config Config) error

	// Connect opens the session.
	Connect(ctx context.Context) error

	// Disconnect closes the session. Disconnecting a session that is
	// not connected is not an error.
	Disconnect() error

	// Publish sends payload to topic.
	Publish(topic string, payload []byte) error

	// Subscribe registers handler for messages on topic.
	Subscribe(topic string, handler MessageHandler) error

	// Connected reports whether the session is currently open.
	Connected() bool
}
