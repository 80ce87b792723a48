package agent

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/cloudlink-iot/cloudlink-go/pkg/connectivity"
	"github.com/cloudlink-iot/cloudlink-go/pkg/session"
	"github.com/cloudlink-iot/cloudlink-go/pkg/storage"
)

// Agent errors.
var (
	ErrAlreadyInitialized  = errors.New("agent already initialised")
	ErrNotInitialized      = errors.New("agent not initialised")
	ErrInvalidConfig       = errors.New("invalid agent configuration")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrAlreadyRegistered   = errors.New("a node is already registered")
	ErrAlreadyStarted      = errors.New("agent already started")
	ErrStillRunning        = errors.New("agent still running, stop it first")
	ErrNoIdentity          = errors.New("no node identity available, perform claiming first")
	ErrNoCredentials       = errors.New("no session credentials available, perform claiming first")
	ErrHardwareUnavailable = errors.New("hardware address unavailable")
	ErrQueueFull           = errors.New("work queue full")
)

// State represents the agent lifecycle state.
type State uint32

const (
	// StateUninitialized - agent handle exists but Init has not run
	// (or Deinit has).
	StateUninitialized State = iota

	// StateInitialized - identity and credentials resolved, owner
	// goroutine not running.
	StateInitialized

	// StateStarting - owner goroutine is executing the startup sequence.
	StateStarting

	// StateStarted - session open, run loop draining work.
	StateStarted

	// StateStopRequested - stop flagged; owner goroutine will shut
	// down at its next loop iteration.
	StateStopRequested
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateStopRequested:
		return "STOP_REQUESTED"
	default:
		return "UNKNOWN"
	}
}

// Claimer performs the one-time exchange of the node identity for
// session credentials. On success the credentials must be stored under
// storage.KeyCredentials in the agent's store.
type Claimer interface {
	Perform(ctx context.Context) error
}

// ClaimerFactory builds the claimer once the node identity has been
// resolved during Init.
type ClaimerFactory func(nodeID string) (Claimer, error)

// TimeSyncer is the time synchronization contract consumed by the
// agent. timesync.Service implements it.
type TimeSyncer interface {
	// Start begins background synchronization; it must not block.
	Start(ctx context.Context)

	// WaitForSync blocks until the clock has synchronized once or the
	// context is cancelled.
	WaitForSync(ctx context.Context) error
}

// Config configures an Agent.
type Config struct {
	// Store is the persistent key-value store for identity and
	// credentials. Required.
	Store storage.Store

	// Session is the messaging session. Required.
	Session session.Session

	// Connectivity is the network readiness gate the owner goroutine
	// blocks on during startup. Required.
	Connectivity *connectivity.Signal

	// EnableTimeSync makes startup wait for time synchronization.
	EnableTimeSync bool

	// TimeSync is the time synchronization service. Required when
	// EnableTimeSync is set.
	TimeSync TimeSyncer

	// SelfClaim enables provision-on-demand: when no credentials are
	// stored, the agent derives its identity from the hardware address
	// and claims credentials during startup. When unset, Init fails
	// without pre-provisioned identity and credentials.
	SelfClaim bool

	// NewClaimer builds the claim client. Required when SelfClaim is
	// set.
	NewClaimer ClaimerFactory

	// HardwareAddr reads the hardware-unique address used to derive
	// the node identity on the self-claim path. Defaults to the first
	// usable interface's MAC.
	HardwareAddr func() (net.HardwareAddr, error)

	// DrainInterval is the run-loop idle interval between work-queue
	// drains. Defaults to 2 seconds.
	DrainInterval time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Validate checks the config is usable.
func (c *Config) Validate() error {
	if c.Store == nil || c.Session == nil || c.Connectivity == nil {
		return ErrInvalidConfig
	}
	if c.EnableTimeSync && c.TimeSync == nil {
		return ErrInvalidConfig
	}
	if c.SelfClaim && c.NewClaimer == nil {
		return ErrInvalidConfig
	}
	return nil
}

// EventType identifies a lifecycle event.
type EventType uint8

const (
	// EventInitDone - initialization completed.
	EventInitDone EventType = iota

	// EventClaimStarted - credential claiming began.
	EventClaimStarted

	// EventClaimFailed - credential claiming failed.
	EventClaimFailed

	// EventClaimSuccessful - credential claiming succeeded.
	EventClaimSuccessful

	// EventConnected - messaging session opened.
	EventConnected

	// EventDisconnected - messaging session closed.
	EventDisconnected
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventInitDone:
		return "INIT_DONE"
	case EventClaimStarted:
		return "CLAIM_STARTED"
	case EventClaimFailed:
		return "CLAIM_FAILED"
	case EventClaimSuccessful:
		return "CLAIM_SUCCESSFUL"
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event is a lifecycle event delivered to registered handlers.
type Event struct {
	// Type is the event type.
	Type EventType

	// Error is set on failure events (EventClaimFailed).
	Error error
}

// EventHandler handles lifecycle events. Handlers run on their own
// goroutine and must not block the agent.
type EventHandler func(Event)
