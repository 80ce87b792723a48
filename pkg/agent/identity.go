package agent

import (
	"errors"
	"fmt"
	"net"

	"github.com/cloudlink-iot/cloudlink-go/pkg/storage"
)

// nodeIDLength is the length of a derived node identity: six hardware
// address bytes as uppercase hex.
const nodeIDLength = 12

// deriveNodeID formats a hardware address as the fixed-width node
// identity: AA:BB:CC:DD:EE:FF -> "AABBCCDDEEFF".
func deriveNodeID(addr net.HardwareAddr) (string, error) {
	if len(addr) < 6 {
		return "", ErrHardwareUnavailable
	}
	return fmt.Sprintf("%02X%02X%02X%02X%02X%02X",
		addr[0], addr[1], addr[2], addr[3], addr[4], addr[5]), nil
}

// resolveNodeID returns the stored node identity, or derives one from
// the hardware address when self-claiming is enabled.
func resolveNodeID(config *Config) (string, error) {
	stored, err := config.Store.Get(storage.KeyNodeID)
	if err == nil {
		if len(stored) == 0 {
			return "", ErrNoIdentity
		}
		return string(stored), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read node identity: %w", err)
	}

	if !config.SelfClaim {
		return "", ErrNoIdentity
	}

	readAddr := config.HardwareAddr
	if readAddr == nil {
		readAddr = DefaultHardwareAddr
	}
	addr, err := readAddr()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	return deriveNodeID(addr)
}

// DefaultHardwareAddr returns the MAC of the first up, non-loopback
// interface that has one.
func DefaultHardwareAddr() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) >= 6 {
			return iface.HardwareAddr, nil
		}
	}
	return nil, errors.New("no interface with a hardware address")
}
