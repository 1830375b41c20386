package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRelayIPRejectsUnspecified(t *testing.T) {
	err := CheckRelayIP(net.IPv4(1, 1, 1, 1), net.IPv4zero)
	assert.ErrorIs(t, err, ErrUnspecified)
}

func TestCheckRelayIPRejectsLoopbackFromNonLoopbackSender(t *testing.T) {
	err := CheckRelayIP(net.IPv4(8, 8, 8, 8), net.IPv4(127, 0, 0, 1))
	assert.ErrorIs(t, err, ErrLoopbackMismatch)
}

func TestCheckRelayIPAllowsLoopbackFromLoopbackSender(t *testing.T) {
	err := CheckRelayIP(net.IPv4(127, 0, 0, 1), net.IPv4(127, 0, 0, 2))
	assert.NoError(t, err)
}

func TestNetlistNilMatchesEverything(t *testing.T) {
	var nl *Netlist
	assert.True(t, nl.Contains(net.IPv4(1, 2, 3, 4)))
}

func TestNetlistFiltersByCIDR(t *testing.T) {
	nl, err := ParseNetlist("10.0.0.0/8")
	require.NoError(t, err)

	assert.True(t, nl.Contains(net.IPv4(10, 1, 2, 3)))
	assert.False(t, nl.Contains(net.IPv4(192, 168, 1, 1)))
}
