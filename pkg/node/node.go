package node

import (
	"errors"
	"fmt"
	"sync"
)

// Model errors.
var (
	ErrInvalidName    = errors.New("node: name must not be empty")
	ErrDuplicateName  = errors.New("node: duplicate name")
	ErrDeviceNotFound = errors.New("node: device not found")
	ErrParamNotFound  = errors.New("node: parameter not found")
	ErrParamReadOnly  = errors.New("node: parameter is read only")
)

// Node is the registered device handle representing its capability tree.
type Node struct {
	mu sync.RWMutex

	name     string
	nodeType string
	devices  []*Device
}

// Device is a logical device under a node (e.g., "Switch", "Light").
type Device struct {
	name       string
	deviceType string

	mu     sync.RWMutex
	params []*Param
}

// Param is a named parameter of a device.
type Param struct {
	name      string
	paramType string
	writable  bool

	mu    sync.RWMutex
	value any
}

// New creates a node.
func New(name, nodeType string) (*Node, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	return &Node{name: name, nodeType: nodeType}, nil
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Type returns the node type.
func (n *Node) Type() string { return n.nodeType }

// AddDevice creates a device under the node.
func (n *Node) AddDevice(name, deviceType string) (*Device, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, d := range n.devices {
		if d.name == name {
			return nil, fmt.Errorf("%w: device %q", ErrDuplicateName, name)
		}
	}

	d := &Device{name: name, deviceType: deviceType}
	n.devices = append(n.devices, d)
	return d, nil
}

// Devices returns the node's devices.
func (n *Node) Devices() []*Device {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*Device(nil), n.devices...)
}

// Device returns the named device.
func (n *Node) Device(name string) (*Device, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, d := range n.devices {
		if d.name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// SetParam writes a parameter value by device and parameter name.
// Read-only parameters are rejected.
func (n *Node) SetParam(device, param string, value any) error {
	d, err := n.Device(device)
	if err != nil {
		return err
	}
	p, err := d.Param(param)
	if err != nil {
		return err
	}
	if !p.writable {
		return fmt.Errorf("%w: %s.%s", ErrParamReadOnly, device, param)
	}
	p.SetValue(value)
	return nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Type returns the device type.
func (d *Device) Type() string { return d.deviceType }

// AddParam creates a parameter on the device. Writable parameters
// accept inbound updates from the cloud.
func (d *Device) AddParam(name, paramType string, initial any, writable bool) (*Param, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.params {
		if p.name == name {
			return nil, fmt.Errorf("%w: param %q", ErrDuplicateName, name)
		}
	}

	p := &Param{name: name, paramType: paramType, writable: writable, value: initial}
	d.params = append(d.params, p)
	return p, nil
}

// Params returns the device's parameters.
func (d *Device) Params() []*Param {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Param(nil), d.params...)
}

// Param returns the named parameter.
func (d *Device) Param(name string) (*Param, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, p := range d.params {
		if p.name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrParamNotFound, name)
}

// Name returns the parameter name.
func (p *Param) Name() string { return p.name }

// Type returns the parameter type.
func (p *Param) Type() string { return p.paramType }

// Writable reports whether the cloud may write this parameter.
func (p *Param) Writable() bool { return p.writable }

// Value returns the current value.
func (p *Param) Value() any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// SetValue updates the current value.
func (p *Param) SetValue(value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = value
}

// Config returns the serializable tree configuration.
func (n *Node) Config() map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()

	devices := make([]map[string]any, 0, len(n.devices))
	for _, d := range n.devices {
		deviceParams := d.Params()
		params := make([]map[string]any, 0, len(deviceParams))
		for _, p := range deviceParams {
			params = append(params, map[string]any{
				"name":     p.name,
				"type":     p.paramType,
				"writable": p.writable,
			})
		}
		devices = append(devices, map[string]any{
			"name":   d.name,
			"type":   d.deviceType,
			"params": params,
		})
	}

	return map[string]any{
		"name":    n.name,
		"type":    n.nodeType,
		"devices": devices,
	}
}

// State returns the current parameter values keyed by device then
// parameter name.
func (n *Node) State() map[string]map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()

	state := make(map[string]map[string]any, len(n.devices))
	for _, d := range n.devices {
		values := make(map[string]any)
		for _, p := range d.Params() {
			values[p.name] = p.Value()
		}
		state[d.name] = values
	}
	return state
}
