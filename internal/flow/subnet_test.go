package flow

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubnets(t *testing.T) {
	set, err := ParseSubnets([]string{"192.168.0.0/16", " 10.1.2.3 ", ""})
	require.NoError(t, err)
	assert.Len(t, set.Prefixes(), 2)
	assert.Equal(t, "192.168.0.0/16,10.1.2.3/32", set.String())
}

func TestParseSubnets_Invalid(t *testing.T) {
	_, err := ParseSubnets([]string{"invalid"})
	assert.Error(t, err)

	_, err = ParseSubnets([]string{"192.168.0.0/33"})
	assert.Error(t, err)
}

func TestParseSubnets_MasksHostBits(t *testing.T) {
	set, err := ParseSubnets([]string{"192.168.7.9/16"})
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.0/16", set.String())
}

func TestSubnetSet_Contains(t *testing.T) {
	set, err := ParseSubnets([]string{"192.168.0.0/16", "10.1.2.3"})
	require.NoError(t, err)

	tests := []struct {
		addr  string
		local bool
	}{
		{"192.168.1.20", true},
		{"192.168.255.255", true},
		{"192.169.0.1", false},
		{"10.1.2.3", true},
		{"10.1.2.4", false},
		{"::ffff:192.168.1.20", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.local, set.Contains(netip.MustParseAddr(tt.addr)))
			assert.Equal(t, tt.local, set.Predicate()(netip.MustParseAddr(tt.addr)))
		})
	}

	assert.False(t, set.Contains(netip.Addr{}))
}

func TestSubnetSet_SubstringLookalikeIsRemote(t *testing.T) {
	set, err := ParseSubnets([]string{"192.168.0.0/16"})
	require.NoError(t, err)

	// contains "192.168" as text but is outside the range
	assert.False(t, set.Contains(netip.MustParseAddr("10.192.168.1")))
}

func TestSubnetSet_NilAndEmpty(t *testing.T) {
	var nilSet *SubnetSet
	assert.False(t, nilSet.Contains(netip.MustParseAddr("192.168.1.1")))

	empty, err := ParseSubnets(nil)
	require.NoError(t, err)
	assert.False(t, empty.Contains(netip.MustParseAddr("192.168.1.1")))
}
