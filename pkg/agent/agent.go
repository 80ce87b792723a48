package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudlink-iot/cloudlink-go/pkg/node"
	"github.com/cloudlink-iot/cloudlink-go/pkg/session"
	"github.com/cloudlink-iot/cloudlink-go/pkg/storage"
)

const defaultDrainInterval = 2 * time.Second

// Agent is the lifecycle orchestrator. A zero handle is Uninitialized;
// Init brings it up, Deinit tears it down. See the package
// documentation for the state machine.
type Agent struct {
	mu sync.Mutex

	config *Config
	logger *slog.Logger

	// state and connected are the only fields written across
	// goroutines after startup; everything else is owner-only (or
	// mutated under mu before the owner goroutine exists).
	state     atomic.Uint32
	connected atomic.Bool

	nodeID       string
	queue        *workQueue
	claimPending bool
	claimer      Claimer

	registeredNode *node.Node
	reporter       *node.Reporter

	eventHandlers []EventHandler

	// ctx spans Init to Deinit; it bounds the owner goroutine and the
	// time-sync service.
	ctx    context.Context
	cancel context.CancelFunc

	// done is the owner goroutine join point, recreated on each Start.
	done chan struct{}
}

// New creates an uninitialized agent handle.
func New() *Agent {
	return &Agent{}
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Connected reports whether the messaging session is open.
func (a *Agent) Connected() bool {
	return a.connected.Load()
}

// NodeID returns the resolved node identity, or "" when uninitialized.
func (a *Agent) NodeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodeID
}

// Node returns the registered node, or nil.
func (a *Agent) Node() *node.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registeredNode
}

// OnEvent registers a lifecycle event handler.
func (a *Agent) OnEvent(handler EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eventHandlers = append(a.eventHandlers, handler)
}

// Init initializes the agent: opens nothing on the network, but
// resolves the node identity, allocates the work queue, and loads the
// session credentials from storage. When no credentials are stored and
// config.SelfClaim is set, claiming is deferred to the startup
// sequence; otherwise Init fails with ErrNoCredentials.
//
// Fails with ErrAlreadyInitialized on a second call without an
// intervening Deinit. On any failure the agent remains Uninitialized
// and holds no resources.
func (a *Agent) Init(config *Config) error {
	if err := a.init(config); err != nil {
		return err
	}
	a.emitEvent(Event{Type: EventInitDone})
	return nil
}

func (a *Agent) init(config *Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.State() != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if config == nil {
		return ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return err
	}

	nodeID, err := resolveNodeID(config)
	if err != nil {
		return err
	}

	queue := newWorkQueue()

	var claimPending bool
	var claimer Claimer

	blob, err := config.Store.Get(storage.KeyCredentials)
	switch {
	case err == nil:
		creds, err := session.DecodeCredentials(blob)
		if err != nil {
			return fmt.Errorf("stored credentials: %w", err)
		}
		if err := config.Session.Configure(session.Config{
			ClientID:    nodeID,
			Credentials: creds,
		}); err != nil {
			return fmt.Errorf("configure session: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
		if !config.SelfClaim {
			return ErrNoCredentials
		}
		claimer, err = config.NewClaimer(nodeID)
		if err != nil {
			return fmt.Errorf("initialise claiming: %w", err)
		}
		claimPending = true
	default:
		return fmt.Errorf("read credentials: %w", err)
	}

	a.config = config
	a.logger = config.Logger
	a.nodeID = nodeID
	a.queue = queue
	a.claimPending = claimPending
	a.claimer = claimer
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.state.Store(uint32(StateInitialized))
	a.debugLog("agent: initialised", "nodeID", nodeID, "claimPending", claimPending)
	return nil
}

// RegisterNode registers the node exactly once for the agent's
// lifetime. A second registration fails with ErrAlreadyRegistered.
func (a *Agent) RegisterNode(n *node.Node) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.State() == StateUninitialized {
		return ErrNotInitialized
	}
	if a.registeredNode != nil {
		return ErrAlreadyRegistered
	}
	if n == nil {
		return ErrInvalidArgument
	}

	a.registeredNode = n
	a.reporter = node.NewReporter(a.config.Session, a.nodeID, n, a.logger)
	return nil
}

// InitWithNode is a convenience that initializes the agent, creates a
// node, and registers it. On any failure the agent is left
// Uninitialized.
func (a *Agent) InitWithNode(config *Config, name, nodeType string) (*node.Node, error) {
	if err := a.Init(config); err != nil {
		return nil, err
	}
	n, err := node.New(name, nodeType)
	if err != nil {
		_ = a.Deinit()
		return nil, err
	}
	if err := a.RegisterNode(n); err != nil {
		_ = a.Deinit()
		return nil, err
	}
	return n, nil
}

// Start spawns the owner goroutine and returns immediately. The
// goroutine executes the startup sequence (connectivity wait, optional
// time-sync wait, claim when pending, session connect, node reporting,
// param-update registration) and then drains the work queue on the
// configured cadence until Stop is called.
//
// Startup failures after Start returns are logged, tear the session
// down if it was opened, and revert the agent to Initialized so a
// fresh Start can retry.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.State() {
	case StateUninitialized:
		return ErrNotInitialized
	case StateInitialized:
	default:
		return ErrAlreadyStarted
	}

	if a.config.EnableTimeSync {
		a.config.TimeSync.Start(a.ctx)
	}

	// The Starting transition happens here rather than on the owner
	// goroutine so a concurrent second Start observes it.
	a.state.Store(uint32(StateStarting))
	a.done = make(chan struct{})

	a.debugLog("agent: starting owner goroutine", "nodeID", a.nodeID)
	go a.run()
	return nil
}

// Stop requests an orderly shutdown. It is asynchronous: the owner
// goroutine observes the request at its next loop iteration, closes
// the session, and reverts to Initialized. Calling Stop when the agent
// is not Started is accepted and has no effect.
func (a *Agent) Stop() error {
	if a.State() == StateUninitialized {
		return ErrNotInitialized
	}
	if a.state.CompareAndSwap(uint32(StateStarted), uint32(StateStopRequested)) {
		a.debugLog("agent: stop requested")
	}
	return nil
}

// Done returns the owner goroutine's join point: the channel is closed
// once the goroutine from the most recent Start has exited. It returns
// a closed channel if the agent was never started.
func (a *Agent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.done
}

// Deinit releases the node, work queue, credentials, and identity, and
// returns the handle to Uninitialized. It fails with ErrStillRunning
// unless the state is exactly Initialized: callers must Stop and wait
// on Done first. Queued work does not survive Deinit.
func (a *Agent) Deinit() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.State() {
	case StateUninitialized:
		return ErrNotInitialized
	case StateInitialized:
	default:
		return ErrStillRunning
	}

	// The owner goroutine reverts the state to Initialized just before
	// exiting; wait for the join point so teardown never races it.
	if a.done != nil {
		<-a.done
	}

	a.cancel()

	a.config = nil
	a.nodeID = ""
	a.queue = nil
	a.claimPending = false
	a.claimer = nil
	a.registeredNode = nil
	a.reporter = nil
	a.eventHandlers = nil
	a.done = nil

	a.state.Store(uint32(StateUninitialized))
	return nil
}

// QueueWork enqueues a callback for execution on the owner goroutine.
// Callable from any goroutine, including work callbacks themselves.
// Never blocks; returns ErrQueueFull when the bounded queue is at
// capacity.
func (a *Agent) QueueWork(fn WorkFunc, priv any) error {
	a.mu.Lock()
	queue := a.queue
	a.mu.Unlock()

	if queue == nil {
		return ErrNotInitialized
	}
	if fn == nil {
		return ErrInvalidArgument
	}
	return queue.enqueue(fn, priv)
}

// QueueReportNodeDetails enqueues a full configuration and state
// re-report as a work item.
func (a *Agent) QueueReportNodeDetails() error {
	return a.QueueWork(func(any) {
		a.reportNodeDetails()
	}, nil)
}

// run is the owner goroutine: the startup sequence, the run loop, and
// teardown. Sole writer of agent state while alive.
func (a *Agent) run() {
	defer close(a.done)

	ctx := a.ctx

	// Wait for connectivity before touching the network. The wait is
	// unbounded: a device that never comes online has nothing to retry.
	a.debugLog("agent: waiting for connectivity")
	if err := a.config.Connectivity.Wait(ctx); err != nil {
		a.failStartup("connectivity wait", err)
		return
	}

	if a.config.EnableTimeSync {
		a.debugLog("agent: waiting for time sync")
		if err := a.config.TimeSync.WaitForSync(ctx); err != nil {
			a.failStartup("time sync wait", err)
			return
		}
	}

	if a.claimPending {
		a.emitEvent(Event{Type: EventClaimStarted})
		a.debugLog("agent: claiming credentials", "nodeID", a.nodeID)

		if err := a.claimer.Perform(ctx); err != nil {
			a.emitEvent(Event{Type: EventClaimFailed, Error: err})
			a.failStartup("claim", err)
			return
		}
		a.emitEvent(Event{Type: EventClaimSuccessful})

		// Reload the credentials the claimer stored and configure the
		// session with them.
		if err := a.configureFromStore(); err != nil {
			a.failStartup("session config after claim", err)
			return
		}
		a.claimPending = false
	}

	if err := a.config.Session.Connect(ctx); err != nil {
		a.failStartup("session connect", err)
		return
	}
	a.connected.Store(true)
	a.emitEvent(Event{Type: EventConnected})
	a.state.Store(uint32(StateStarted))
	a.debugLog("agent: started", "nodeID", a.nodeID)

	// Report config/state and register for param updates before normal
	// operation; a failure here skips the run loop but still tears the
	// session down.
	if err := a.reportAndRegister(); err != nil {
		a.logError("agent: startup reporting failed", err)
	} else {
		a.runLoop(ctx)
	}

	// Teardown.
	if err := a.config.Session.Disconnect(); err != nil {
		a.logError("agent: session disconnect failed", err)
	}
	a.connected.Store(false)
	a.emitEvent(Event{Type: EventDisconnected})
	a.state.Store(uint32(StateInitialized))
	a.debugLog("agent: stopped")
}

// runLoop drains the work queue on a fixed cadence until a stop is
// requested. The non-blocking drain plus bounded idle keeps worst-case
// deferred-work latency at one interval.
func (a *Agent) runLoop(ctx context.Context) {
	interval := a.config.DrainInterval
	if interval <= 0 {
		interval = defaultDrainInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for a.State() == StateStarted {
		a.queue.drain()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// reportAndRegister publishes node config and state, then subscribes
// to inbound parameter updates.
func (a *Agent) reportAndRegister() error {
	reporter := a.nodeReporter()
	if reporter == nil {
		return errors.New("no node registered")
	}

	if err := reporter.ReportConfig(); err != nil {
		return err
	}
	if err := reporter.ReportState(); err != nil {
		return err
	}

	// Inbound updates arrive on the session's delivery goroutine; hand
	// them to the owner goroutine through the work queue so they never
	// run concurrently with other agent work.
	return reporter.RegisterForParamUpdates(func(updates []node.ParamUpdate) {
		err := a.QueueWork(func(priv any) {
			a.applyParamUpdates(priv.([]node.ParamUpdate))
		}, updates)
		if err != nil {
			a.logError("agent: dropping param updates", err)
		}
	})
}

// applyParamUpdates writes inbound updates into the node model and
// re-reports state when anything changed. Owner goroutine only.
func (a *Agent) applyParamUpdates(updates []node.ParamUpdate) {
	reporter := a.nodeReporter()
	if reporter == nil {
		return
	}
	applied := reporter.Apply(updates)
	if len(applied) == 0 {
		return
	}
	if err := reporter.ReportState(); err != nil {
		a.logError("agent: state report after param update failed", err)
	}
}

// nodeReporter returns the reporter for the registered node, or nil.
func (a *Agent) nodeReporter() *node.Reporter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reporter
}

// reportNodeDetails re-reports config and state. Owner goroutine only.
func (a *Agent) reportNodeDetails() {
	reporter := a.nodeReporter()
	if reporter == nil {
		return
	}
	if err := reporter.ReportConfig(); err != nil {
		a.logError("agent: config report failed", err)
		return
	}
	if err := reporter.ReportState(); err != nil {
		a.logError("agent: state report failed", err)
	}
}

// configureFromStore loads stored credentials and configures the
// session with them.
func (a *Agent) configureFromStore() error {
	blob, err := a.config.Store.Get(storage.KeyCredentials)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	creds, err := session.DecodeCredentials(blob)
	if err != nil {
		return err
	}
	return a.config.Session.Configure(session.Config{
		ClientID:    a.nodeID,
		Credentials: creds,
	})
}

// failStartup logs a fatal startup-sequence failure, closes the
// session if it was opened, and reverts to Initialized so a fresh
// Start can retry. No automatic retry happens.
func (a *Agent) failStartup(step string, err error) {
	a.logError(fmt.Sprintf("agent: %s failed, aborting startup", step), err)

	if a.connected.Load() {
		if derr := a.config.Session.Disconnect(); derr != nil {
			a.logError("agent: session disconnect failed", derr)
		}
		a.connected.Store(false)
		a.emitEvent(Event{Type: EventDisconnected})
	}
	a.state.Store(uint32(StateInitialized))
}

// emitEvent sends an event to all registered handlers.
func (a *Agent) emitEvent(event Event) {
	a.mu.Lock()
	handlers := append([]EventHandler(nil), a.eventHandlers...)
	a.mu.Unlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

func (a *Agent) debugLog(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}

func (a *Agent) logError(msg string, err error) {
	if a.logger != nil {
		a.logger.Error(msg, "error", err)
	}
}
