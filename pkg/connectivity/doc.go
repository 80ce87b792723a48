// Package connectivity provides the network readiness gate for the agent.
//
// The orchestrator must not touch the network before the device has
// connectivity. The surrounding network layer (or the bundled Monitor)
// raises a latched Signal once the device is online; the agent's owner
// goroutine blocks on it during startup.
//
// A Signal is single-shot: once set it stays set, and any number of
// waiters observe it. This mirrors the "wait for network up" gate of
// embedded connection stacks without tying the agent to a particular
// network layer.
package connectivity
