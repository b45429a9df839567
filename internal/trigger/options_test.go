package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptionsNormalizeDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 115200, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)
	assert.Equal(t, 1, opts.StopBits)
	assert.Equal(t, "N", opts.Parity)
}

func TestPortOptionsNormalizeRejections(t *testing.T) {
	_, err := PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)

	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)

	_, err = PortOptions{Parity: "M"}.Normalize()
	assert.Error(t, err)
}

func TestPortOptionsParityAliases(t *testing.T) {
	for _, in := range []string{"e", "E", "even", "EVEN"} {
		opts, err := PortOptions{Parity: in}.Normalize()
		require.NoError(t, err, "parity %q", in)
		assert.Equal(t, "E", opts.Parity)
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 921600, StopBits: 2, Parity: "odd"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 921600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)
}
