package ipmanager

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("bad ip: " + s)
	}
	return ip
}

func TestDenseAllocation(t *testing.T) {
	m := New(mustIP("10.0.0.0"), mustIP("255.255.255.0"))

	for i := 0; i < 5; i++ {
		free, ok := m.Free()
		require.True(t, ok)
		want := mustIP("10.0.0." + strconv.Itoa(i))
		assert.True(t, free.Equal(want), "allocation %d: got %s want %s", i, free, want)
		m.Block(free)
	}
}

func TestFullSpace(t *testing.T) {
	// /30: 4 host addresses, one pre-blocked as the gateway.
	m := New(mustIP("10.0.0.0"), mustIP("255.255.255.252"))
	m.Block(mustIP("10.0.0.0"))

	var allocated []net.IP
	for i := 0; i < 3; i++ {
		free, ok := m.Free()
		require.True(t, ok)
		m.Block(free)
		allocated = append(allocated, free)
	}

	_, ok := m.Free()
	assert.False(t, ok, "subnet should be exhausted")

	m.Release(allocated[1])
	free, ok := m.Free()
	require.True(t, ok)
	assert.True(t, free.Equal(allocated[1]))
}

func TestBlockIgnoresOutsideSubnet(t *testing.T) {
	m := New(mustIP("10.0.0.0"), mustIP("255.255.255.0"))
	m.Block(mustIP("192.168.1.1"))
	free, ok := m.Free()
	require.True(t, ok)
	assert.True(t, free.Equal(mustIP("10.0.0.0")))
}

func TestReleaseRewindsMinFree(t *testing.T) {
	m := New(mustIP("10.0.0.0"), mustIP("255.255.255.0"))
	a, _ := m.Free()
	m.Block(a)
	b, _ := m.Free()
	m.Block(b)
	c, _ := m.Free()
	m.Block(c)

	m.Release(b)
	free, ok := m.Free()
	require.True(t, ok)
	assert.True(t, free.Equal(b))
}
