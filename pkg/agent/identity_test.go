package agent

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudlink-iot/cloudlink-go/pkg/storage"
)

func TestDeriveNodeID(t *testing.T) {
	addr, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	id, err := deriveNodeID(addr)
	require.NoError(t, err)
	assert.Equal(t, "AABBCCDDEEFF", id)
	assert.Len(t, id, nodeIDLength)
}

func TestDeriveNodeIDShortAddr(t *testing.T) {
	_, err := deriveNodeID(net.HardwareAddr{0x01, 0x02})
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
}

func TestResolveNodeIDStored(t *testing.T) {
	store := storage.NewMemStore()
	require.NoError(t, store.Set(storage.KeyNodeID, []byte("STOREDID0001")))

	id, err := resolveNodeID(&Config{Store: store})
	require.NoError(t, err)
	assert.Equal(t, "STOREDID0001", id)
}

func TestResolveNodeIDDerived(t *testing.T) {
	store := storage.NewMemStore()

	config := &Config{
		Store:     store,
		SelfClaim: true,
		HardwareAddr: func() (net.HardwareAddr, error) {
			return net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, nil
		},
	}

	id, err := resolveNodeID(config)
	require.NoError(t, err)
	assert.Equal(t, "AABBCCDDEEFF", id)
}

func TestResolveNodeIDHardwareUnavailable(t *testing.T) {
	store := storage.NewMemStore()

	config := &Config{
		Store:     store,
		SelfClaim: true,
		HardwareAddr: func() (net.HardwareAddr, error) {
			return nil, errors.New("wifi not initialised")
		},
	}

	_, err := resolveNodeID(config)
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
}

func TestResolveNodeIDNoIdentity(t *testing.T) {
	store := storage.NewMemStore()

	_, err := resolveNodeID(&Config{Store: store, SelfClaim: false})
	assert.ErrorIs(t, err, ErrNoIdentity)
}
