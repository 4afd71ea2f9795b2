package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortRegistryAcquireRelease(t *testing.T) {
	t.Parallel()

	reg := NewPortRegistry()
	require.NoError(t, reg.Acquire("/dev/ttyUSB0"))
	assert.True(t, reg.InUse("/dev/ttyUSB0"))

	err := reg.Acquire("/dev/ttyUSB0")
	assert.ErrorIs(t, err, ErrPortBusy)

	// A different port is unaffected.
	require.NoError(t, reg.Acquire("/dev/ttyUSB1"))

	reg.Release("/dev/ttyUSB0")
	assert.False(t, reg.InUse("/dev/ttyUSB0"))
	require.NoError(t, reg.Acquire("/dev/ttyUSB0"))

	// Releasing an unheld port is a no-op.
	reg.Release("/dev/ttyACM9")
}

func TestListPorts(t *testing.T) {
	t.Parallel()

	reg := NewPortRegistry()
	require.NoError(t, reg.Acquire("/dev/ttyUSB1"))

	ports, err := ListPorts(reg, func() ([]string, error) {
		return []string{"/dev/ttyUSB1", "/dev/ttyACM0", "/dev/ttyUSB0"}, nil
	})
	require.NoError(t, err)

	require.Len(t, ports, 3)
	assert.Equal(t, []PortStatus{
		{Name: "/dev/ttyACM0", InUse: false},
		{Name: "/dev/ttyUSB0", InUse: false},
		{Name: "/dev/ttyUSB1", InUse: true},
	}, ports)
}

func TestListPortsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("enumeration failed")
	_, err := ListPorts(NewPortRegistry(), func() ([]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}
