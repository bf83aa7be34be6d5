// Package netguard decides whether the current network is trusted
// enough to back up over, by comparing the default gateway's hardware
// address against a whitelist. Anything it cannot determine counts as
// untrusted.
package netguard

import (
	"errors"
	"fmt"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// ErrNotWhitelisted is returned when the gateway was resolved but is
// not an allowed address.
var ErrNotWhitelisted = errors.New("gateway is not on the network whitelist")

// GatewayResolver reports the hardware address of the default
// gateway currently in use.
type GatewayResolver interface {
	GatewayHardwareAddr() (net.HardwareAddr, error)
}

// NetlinkResolver resolves the gateway MAC from the kernel routing
// and neighbour tables.
type NetlinkResolver struct{}

func (NetlinkResolver) GatewayHardwareAddr() (net.HardwareAddr, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("listing routes: %w", err)
	}

	var gw net.IP
	linkIndex := -1
	for _, r := range routes {
		if r.Gw == nil {
			continue
		}
		if r.Dst == nil || r.Dst.IP.IsUnspecified() {
			gw = r.Gw
			linkIndex = r.LinkIndex
			break
		}
	}
	if gw == nil {
		return nil, errors.New("no default route with a gateway found")
	}

	neighs, err := netlink.NeighList(linkIndex, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("listing neighbours on link %d: %w", linkIndex, err)
	}
	for _, n := range neighs {
		if n.IP.Equal(gw) && len(n.HardwareAddr) > 0 {
			return n.HardwareAddr, nil
		}
	}
	return nil, fmt.Errorf("gateway %s has no neighbour table entry", gw)
}

// Guard checks the resolved gateway against the configured whitelist.
type Guard struct {
	Whitelist []string
	Resolver  GatewayResolver
}

// Check permits the run iff the gateway's MAC is on the whitelist,
// compared case-insensitively. An undeterminable gateway, an empty
// whitelist or a malformed whitelist entry all reject: this is the
// safety check of the whole system, so it fails closed.
func (g Guard) Check() error {
	if len(g.Whitelist) == 0 {
		return errors.New("network whitelist is empty; refusing to back up")
	}

	mac, err := g.Resolver.GatewayHardwareAddr()
	if err != nil {
		return fmt.Errorf("could not determine gateway address: %w", err)
	}
	observed := mac.String()

	for _, entry := range g.Whitelist {
		allowed, err := net.ParseMAC(strings.TrimSpace(entry))
		if err != nil {
			return fmt.Errorf("malformed whitelist entry %q: %w", entry, err)
		}
		if strings.EqualFold(allowed.String(), observed) {
			log.WithField("gateway", observed).Debug("gateway is whitelisted")
			return nil
		}
	}
	return fmt.Errorf("gateway %s: %w", observed, ErrNotWhitelisted)
}
