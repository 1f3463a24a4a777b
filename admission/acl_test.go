package admission

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clickin/querygate/errors"
)

func TestNetworkACLSingleAddress(t *testing.T) {
	acl, err := NewNetworkACL([]string{"10.0.0.5"})
	require.NoError(t, err)

	assert.True(t, acl.Allows(netip.MustParseAddr("10.0.0.5")))
	assert.False(t, acl.Allows(netip.MustParseAddr("10.0.0.6")))
}

func TestNetworkACLCIDRRange(t *testing.T) {
	acl, err := NewNetworkACL([]string{"192.168.0.0/16"})
	require.NoError(t, err)

	assert.True(t, acl.Allows(netip.MustParseAddr("192.168.3.44")))
	assert.False(t, acl.Allows(netip.MustParseAddr("192.169.0.1")))
}

func TestNetworkACLFamilyMismatchFails(t *testing.T) {
	acl, err := NewNetworkACL([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	assert.False(t, acl.Allows(netip.MustParseAddr("::1")))
	assert.False(t, acl.Allows(netip.MustParseAddr("2001:db8::1")))
}

func TestNetworkACLMappedV4MatchesV4Entry(t *testing.T) {
	acl, err := NewNetworkACL([]string{"127.0.0.1"})
	require.NoError(t, err)

	assert.True(t, acl.Allows(netip.MustParseAddr("::ffff:127.0.0.1")))
}

func TestNetworkACLEmptyAllowsAll(t *testing.T) {
	acl, err := NewNetworkACL(nil)
	require.NoError(t, err)

	assert.True(t, acl.Allows(netip.MustParseAddr("203.0.113.9")))
	assert.True(t, acl.Allows(netip.MustParseAddr("2001:db8::1")))
}

func TestNetworkACLRejectsInvalidEntries(t *testing.T) {
	_, err := NewNetworkACL([]string{"not-an-address"})
	assert.Error(t, err)

	_, err = NewNetworkACL([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestCheckRequestUsesForwardedForFirstHop(t *testing.T) {
	acl, err := NewNetworkACL([]string{"10.1.1.1"})
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/users", nil)
	r.RemoteAddr = "192.0.2.50:4321"
	r.Header.Set("X-Forwarded-For", "10.1.1.1, 198.51.100.7")
	assert.NoError(t, acl.CheckRequest(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.1.1.1")
	err = acl.CheckRequest(r)
	require.Error(t, err)
	assert.Equal(t, errors.NetworkDenied, errors.KindOf(err))
}

func TestCheckRequestFallsBackToRemoteAddr(t *testing.T) {
	acl, err := NewNetworkACL([]string{"192.0.2.50"})
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/users", nil)
	r.RemoteAddr = "192.0.2.50:4321"
	assert.NoError(t, acl.CheckRequest(r))
}

func TestCheckRequestDeniesUnparseableSource(t *testing.T) {
	acl, err := NewNetworkACL([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/users", nil)
	r.RemoteAddr = "garbage"
	err = acl.CheckRequest(r)
	require.Error(t, err)
	assert.Equal(t, errors.NetworkDenied, errors.KindOf(err))
}
