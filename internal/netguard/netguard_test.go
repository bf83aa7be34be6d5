package netguard_test

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pont-us/bbackup/internal/netguard"
)

type stubResolver struct {
	mac string
	err error
}

func (s stubResolver) GatewayHardwareAddr() (net.HardwareAddr, error) {
	if s.err != nil {
		return nil, s.err
	}
	mac, err := net.ParseMAC(s.mac)
	if err != nil {
		panic(err)
	}
	return mac, nil
}

func TestCheck(t *testing.T) {
	whitelist := []string{"AA:BB:CC:DD:EE:FF", "00:11:22:33:44:55"}

	tests := []struct {
		name     string
		resolver stubResolver
		allow    bool
	}{
		{"exact match", stubResolver{mac: "00:11:22:33:44:55"}, true},
		{"case-insensitive match", stubResolver{mac: "aa:bb:cc:dd:ee:ff"}, true},
		{"unknown gateway", stubResolver{mac: "de:ad:be:ef:00:01"}, false},
		{"resolver failure", stubResolver{err: errors.New("no default route")}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := netguard.Guard{Whitelist: whitelist, Resolver: tc.resolver}
			err := g.Check()
			if tc.allow {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCheckNotWhitelistedSentinel(t *testing.T) {
	g := netguard.Guard{
		Whitelist: []string{"aa:bb:cc:dd:ee:ff"},
		Resolver:  stubResolver{mac: "de:ad:be:ef:00:01"},
	}
	err := g.Check()
	require.Error(t, err)
	assert.ErrorIs(t, err, netguard.ErrNotWhitelisted)
}

func TestCheckEmptyWhitelistFailsClosed(t *testing.T) {
	g := netguard.Guard{Resolver: stubResolver{mac: "aa:bb:cc:dd:ee:ff"}}
	assert.Error(t, g.Check())
}

func TestCheckMalformedWhitelistEntryFailsClosed(t *testing.T) {
	g := netguard.Guard{
		Whitelist: []string{"not-a-mac"},
		Resolver:  stubResolver{mac: "aa:bb:cc:dd:ee:ff"},
	}
	assert.Error(t, g.Check())
}
