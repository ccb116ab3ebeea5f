package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"

	"github.com/wepwawet/wepwawet/internal/netlinkgw"
	"github.com/wepwawet/wepwawet/internal/policy"
	"github.com/wepwawet/wepwawet/internal/wireguard"
)

// firstPolicyPriority is the priority assigned to the first policy in
// the list; each subsequent policy gets firstPolicyPriority +
// 100*index, leaving room for each policy's own killswitch rule at
// Priority+1 without colliding with the next policy's range.
const firstPolicyPriority = 100

// WireguardConfig translates the `vpn` block into a wireguard.Config.
// Keys are decoded from base64, the standard WireGuard key encoding.
func (c *Config) WireguardConfig() (wireguard.Config, error) {
	privKey, err := base64.StdEncoding.DecodeString(c.VPN.Interface.PrivateKey)
	if err != nil {
		return wireguard.Config{}, fmt.Errorf("config: vpn.interface.private_key: %w", err)
	}
	pubKey, err := base64.StdEncoding.DecodeString(c.VPN.Peer.PublicKey)
	if err != nil {
		return wireguard.Config{}, fmt.Errorf("config: vpn.peer.public_key: %w", err)
	}

	var psk []byte
	if c.VPN.Peer.PresharedKey != "" {
		psk, err = base64.StdEncoding.DecodeString(c.VPN.Peer.PresharedKey)
		if err != nil {
			return wireguard.Config{}, fmt.Errorf("config: vpn.peer.preshared_key: %w", err)
		}
	}

	addrs := make([]*net.IPNet, 0, len(c.VPN.Interface.Address))
	for _, a := range c.VPN.Interface.Address {
		ip, ipNet, err := net.ParseCIDR(a)
		if err != nil {
			return wireguard.Config{}, fmt.Errorf("config: vpn.interface.address: %w", err)
		}
		ipNet.IP = ip
		addrs = append(addrs, ipNet)
	}

	wgCfg := wireguard.Config{
		InterfaceName: c.Interface,
		Addresses:     addrs,
		PrivateKey:    privKey,
		Peer: wireguard.PeerConfig{
			PublicKey:           pubKey,
			PresharedKey:        psk,
			AllowedIPs:          c.VPN.Peer.AllowedIPs,
			Endpoint:            c.VPN.Peer.Endpoint,
			PersistentKeepalive: c.VPN.Peer.Keepalive,
		},
	}
	wgCfg.ApplyDefaults()
	return wgCfg, nil
}

// Policies translates the `policies` list into policy.Policy values
// bound to gw and the engine's table, assigning sequential rule
// priorities (100, 200, 300, …) in declaration order.
func (c *Config) Policies(gw netlinkgw.Gateway, logger *slog.Logger) ([]policy.Policy, error) {
	out := make([]policy.Policy, 0, len(c.Policies))
	for i, p := range c.Policies {
		lo, hi, err := p.parseUIDRange()
		if err != nil {
			return nil, fmt.Errorf("config: policies[%d]: %w", i, err)
		}
		out = append(out, &policy.UserRangePolicy{
			GW:         gw,
			Table:      c.TableName,
			UIDLo:      lo,
			UIDHi:      hi,
			Priority:   firstPolicyPriority + 100*i,
			Killswitch: p.Killswitch,
			Logger:     logger,
		})
	}
	return out, nil
}
