// Package agent implements the lifecycle orchestrator for a device's
// connection to its cloud management service.
//
// The Agent owns the node identity, the session credentials, a bounded
// work queue, and a single owner goroutine that executes the startup
// sequence and then drains deferred work. The lifecycle is:
//
//	Uninitialized -> Initialized -> Starting -> Started -> StopRequested
//	                      ^                                     |
//	                      +-------------------------------------+
//
// Init resolves the node identity (stored, or derived from the hardware
// address when self-claiming is enabled) and loads or arranges session
// credentials. Start spawns the owner goroutine, which waits for
// connectivity and (optionally) time synchronization, performs the
// one-time claim when no credentials were stored, opens the messaging
// session, reports the node's configuration and state, registers for
// inbound parameter updates, and then drains the work queue on a fixed
// cadence until Stop is requested.
//
// All mutation of agent state happens on the owner goroutine once
// started; external goroutines interact only through the work queue,
// Stop, and the read accessors.
package agent
