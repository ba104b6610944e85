package iostream

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUniqueName(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	for _, testCase := range []struct {
		remote netip.AddrPort
		name   string
	}{
		{netip.MustParseAddrPort("10.0.0.5:4444"), "10.0.0.5:4444|1700000000"},
		{netip.MustParseAddrPort("[::ffff:10.0.0.5]:4444"), "10.0.0.5:4444|1700000000"},
		{netip.MustParseAddrPort("[2001:db8::1]:80"), "2001:db8::1:80|1700000000"},
		{netip.AddrPort{}, ":0|1700000000"},
	} {
		require.Equal(t, testCase.name, UniqueName(testCase.remote, now))
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "active-closing", StateActiveClosing.String())
	require.Equal(t, "passive-closing", StatePassiveClosing.String())
	require.Equal(t, "both-closing", StateBothClosing.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "state(9)", State(9).String())
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()
	require.Equal(t, StateActiveClosing, StateOpen.withActive())
	require.Equal(t, StateBothClosing, StatePassiveClosing.withActive())
	require.Equal(t, StatePassiveClosing, StateOpen.withPassive())
	require.Equal(t, StateBothClosing, StateActiveClosing.withPassive())
	require.Equal(t, StateClosed, StateClosed.withActive())
	require.Equal(t, StateClosed, StateClosed.withPassive())
}
