// Package node provides the device/parameter model registered with the
// agent and the reporter that mirrors it to the cloud.
//
// A Node is a tree: the node owns devices, each device owns parameters.
// The Reporter publishes the node's configuration (the tree shape) and
// state (current parameter values) over the messaging session and
// subscribes to inbound parameter updates from the cloud.
//
// Report payloads are CBOR maps with string keys; the topics follow the
// node/<id>/... scheme:
//
//	node/<id>/config        outbound, tree configuration
//	node/<id>/params/local  outbound, current values
//	node/<id>/params/remote inbound, requested values
package node
