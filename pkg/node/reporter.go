package node

import (
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudlink-iot/cloudlink-go/pkg/session"
)

// Topic suffixes under node/<id>/.
const (
	topicConfig       = "config"
	topicParamsLocal  = "params/local"
	topicParamsRemote = "params/remote"
)

// ParamUpdate is a single inbound parameter write request.
type ParamUpdate struct {
	Device string
	Param  string
	Value  any
}

// ParamUpdateFunc receives inbound parameter updates. It is called on
// the session's delivery goroutine; implementations that need the
// agent's owner goroutine must hand the updates off (the agent does
// this via its work queue).
type ParamUpdateFunc func(updates []ParamUpdate)

// Reporter mirrors a node to the cloud over a messaging session.
type Reporter struct {
	sess   session.Session
	nodeID string
	node   *Node
	logger *slog.Logger
}

// NewReporter creates a reporter for node, publishing under node/<nodeID>/.
// A nil logger disables logging.
func NewReporter(sess session.Session, nodeID string, n *Node, logger *slog.Logger) *Reporter {
	return &Reporter{
		sess:   sess,
		nodeID: nodeID,
		node:   n,
		logger: logger,
	}
}

// Topic returns the full topic for a suffix under this node.
func (r *Reporter) Topic(suffix string) string {
	return fmt.Sprintf("node/%s/%s", r.nodeID, suffix)
}

// ReportConfig publishes the node's tree configuration.
func (r *Reporter) ReportConfig() error {
	payload, err := cbor.Marshal(r.node.Config())
	if err != nil {
		return fmt.Errorf("encode node config: %w", err)
	}
	if err := r.sess.Publish(r.Topic(topicConfig), payload); err != nil {
		return fmt.Errorf("publish node config: %w", err)
	}
	r.debugLog("reporter: config published", "nodeID", r.nodeID)
	return nil
}

// ReportState publishes the node's current parameter values.
func (r *Reporter) ReportState() error {
	payload, err := cbor.Marshal(r.node.State())
	if err != nil {
		return fmt.Errorf("encode node state: %w", err)
	}
	if err := r.sess.Publish(r.Topic(topicParamsLocal), payload); err != nil {
		return fmt.Errorf("publish node state: %w", err)
	}
	r.debugLog("reporter: state published", "nodeID", r.nodeID)
	return nil
}

// RegisterForParamUpdates subscribes to inbound parameter writes and
// delivers decoded updates to apply. Malformed payloads are logged and
// dropped.
func (r *Reporter) RegisterForParamUpdates(apply ParamUpdateFunc) error {
	topic := r.Topic(topicParamsRemote)
	err := r.sess.Subscribe(topic, func(_ string, payload []byte) {
		updates, err := decodeParamUpdates(payload)
		if err != nil {
			r.debugLog("reporter: dropping malformed param update", "error", err)
			return
		}
		if len(updates) > 0 {
			apply(updates)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe param updates: %w", err)
	}
	r.debugLog("reporter: registered for param updates", "topic", topic)
	return nil
}

// Apply writes updates into the node model, skipping unknown or
// read-only parameters, and returns the updates that took effect.
func (r *Reporter) Apply(updates []ParamUpdate) []ParamUpdate {
	applied := make([]ParamUpdate, 0, len(updates))
	for _, u := range updates {
		if err := r.node.SetParam(u.Device, u.Param, u.Value); err != nil {
			r.debugLog("reporter: param update rejected",
				"device", u.Device, "param", u.Param, "error", err)
			continue
		}
		applied = append(applied, u)
	}
	return applied
}

// decodeParamUpdates decodes a params/remote payload: a CBOR map of
// device name to parameter name to value.
func decodeParamUpdates(payload []byte) ([]ParamUpdate, error) {
	var raw map[string]map[string]any
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	var updates []ParamUpdate
	for device, params := range raw {
		for param, value := range params {
			updates = append(updates, ParamUpdate{Device: device, Param: param, Value: value})
		}
	}
	return updates, nil
}

// EncodeParamUpdates encodes updates in the params/remote payload
// format. Used by tests and tooling that simulate the cloud side.
func EncodeParamUpdates(updates []ParamUpdate) ([]byte, error) {
	raw := make(map[string]map[string]any)
	for _, u := range updates {
		if raw[u.Device] == nil {
			raw[u.Device] = make(map[string]any)
		}
		raw[u.Device][u.Param] = u.Value
	}
	return cbor.Marshal(raw)
}

func (r *Reporter) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
