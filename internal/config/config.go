// Package config parses and validates the YAML configuration file
// that describes one routing engine: its table, tunnel interface,
// exemption networks, VPN tunnel, and policies. It is an external
// collaborator (spec.md §6) — it hands the core plain value types,
// never a live Gateway or Engine.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Error wraps a configuration failure with the file path it came from.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s: %v", e.Path, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// WireguardInterface is the `vpn.interface` block.
type WireguardInterface struct {
	Address    []string `yaml:"address"`
	PrivateKey string   `yaml:"private_key"`
}

// WireguardPeer is the `vpn.peer` block.
type WireguardPeer struct {
	PublicKey    string   `yaml:"public_key"`
	PresharedKey string   `yaml:"preshared_key"`
	AllowedIPs   []string `yaml:"allowed_ips"`
	Endpoint     string   `yaml:"endpoint"`
	Keepalive    int      `yaml:"keepalive"`
}

// VPN is the `vpn` block. Type is currently always "wireguard"; the
// field exists so a future tunnel kind can be added without breaking
// the schema, matching the original config's dict-of-type shape.
type VPN struct {
	Type      string             `yaml:"type"`
	Interface WireguardInterface `yaml:"interface"`
	Peer      WireguardPeer      `yaml:"peer"`
}

// Policy is one entry of the `policies` list. Only type "uid" is
// supported: NamespacePolicy and ProcessPolicy have no YAML surface,
// they are built directly by the `exec` subcommand from its flags.
type Policy struct {
	Type       string `yaml:"type"`
	UIDRange   string `yaml:"uid_range"`
	Killswitch bool   `yaml:"killswitch"`
}

// Config is the top-level schema of spec.md §6, plus the per_net_routes
// field.
type Config struct {
	TableName int      `yaml:"table_name"`
	Interface string   `yaml:"interface"`
	IPv6      *bool    `yaml:"ipv6"`
	Nets      []string `yaml:"nets"`
	VPN       VPN      `yaml:"vpn"`
	Policies  []Policy `yaml:"policies"`

	// PerNetRoutes selects RoutingEngine step 3's "per-net routes only"
	// mode (spec.md §4.E step 3) instead of the default-route mode: one
	// route per entry of Nets plus masquerade on every non-tunnel link,
	// rather than a single tunnel-wide default route. Only meaningful
	// when Nets is non-empty.
	PerNetRoutes bool `yaml:"per_net_routes"`
}

// IPv6Enabled reports the effective value of the `ipv6` field, which
// defaults to true. A pointer is needed internally because the
// zero value of bool cannot be distinguished from an explicit false.
func (c *Config) IPv6Enabled() bool {
	return c.IPv6 == nil || *c.IPv6
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.IPv6 == nil {
		enabled := true
		c.IPv6 = &enabled
	}
	if c.Nets == nil {
		c.Nets = []string{}
	}
}

// Validate checks that required fields are present and well-formed.
// It does not touch the kernel or the filesystem.
func (c *Config) Validate() error {
	if c.TableName <= 0 {
		return fmt.Errorf("config: table_name must be positive, got %d", c.TableName)
	}
	if c.Interface == "" {
		return fmt.Errorf("config: interface is required")
	}
	for _, n := range c.Nets {
		if _, _, err := net.ParseCIDR(n); err != nil {
			return fmt.Errorf("config: nets: invalid CIDR %q: %w", n, err)
		}
	}
	if err := c.VPN.validate(); err != nil {
		return err
	}
	for i, p := range c.Policies {
		if err := p.validate(); err != nil {
			return fmt.Errorf("config: policies[%d]: %w", i, err)
		}
	}
	return nil
}

func (v *VPN) validate() error {
	if v.Type != "wireguard" {
		return fmt.Errorf("config: vpn: unsupported type %q (only \"wireguard\" is supported)", v.Type)
	}
	if len(v.Interface.Address) == 0 {
		return fmt.Errorf("config: vpn.interface.address is required")
	}
	for _, a := range v.Interface.Address {
		if _, _, err := net.ParseCIDR(a); err != nil {
			return fmt.Errorf("config: vpn.interface.address: invalid CIDR %q: %w", a, err)
		}
	}
	if v.Interface.PrivateKey == "" {
		return fmt.Errorf("config: vpn.interface.private_key is required")
	}
	if v.Peer.PublicKey == "" {
		return fmt.Errorf("config: vpn.peer.public_key is required")
	}
	if len(v.Peer.AllowedIPs) == 0 {
		return fmt.Errorf("config: vpn.peer.allowed_ips is required")
	}
	for _, a := range v.Peer.AllowedIPs {
		if _, _, err := net.ParseCIDR(a); err != nil {
			return fmt.Errorf("config: vpn.peer.allowed_ips: invalid CIDR %q: %w", a, err)
		}
	}
	if v.Peer.Endpoint == "" {
		return fmt.Errorf("config: vpn.peer.endpoint is required")
	}
	if _, _, err := net.SplitHostPort(v.Peer.Endpoint); err != nil {
		return fmt.Errorf("config: vpn.peer.endpoint: %w", err)
	}
	return nil
}

func (p *Policy) validate() error {
	if p.Type != "uid" {
		return fmt.Errorf("unsupported policy type %q (only \"uid\" is supported)", p.Type)
	}
	if _, _, err := p.parseUIDRange(); err != nil {
		return err
	}
	return nil
}

// parseUIDRange parses "LO:HI" into its two bounds.
func (p *Policy) parseUIDRange() (uint32, uint32, error) {
	parts := strings.SplitN(p.UIDRange, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("uid_range: expected \"LO:HI\", got %q", p.UIDRange)
	}
	lo, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("uid_range: invalid low bound %q: %w", parts[0], err)
	}
	hi, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("uid_range: invalid high bound %q: %w", parts[1], err)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("uid_range: low bound %d is greater than high bound %d", lo, hi)
	}
	return uint32(lo), uint32(hi), nil
}

// ParseConfig reads a YAML configuration file, applies defaults, and
// validates it.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return &cfg, nil
}

// ExemptionNets parses the `nets` list into IP networks. Validate must
// have been called (or ParseConfig used) so parse errors cannot occur.
func (c *Config) ExemptionNets() []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(c.Nets))
	for _, n := range c.Nets {
		_, ipNet, err := net.ParseCIDR(n)
		if err != nil {
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}
