package firewall

import (
	"log/slog"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

// postroutingChain is the netfilter NAT chain every masquerade entry is
// installed into.
const postroutingChain = "POSTROUTING"

// IPTablesGateway implements Gateway using github.com/coreos/go-iptables,
// invoking the host's iptables/ip6tables binaries rather than shelling
// out by hand, following the same library's use in the corpus for
// programmatic NAT/mangle rule management.
type IPTablesGateway struct {
	logger *slog.Logger
}

// New returns an IPTablesGateway.
func New(logger *slog.Logger) *IPTablesGateway {
	return &IPTablesGateway{logger: logger}
}

func rulespec(iface, tag string) []string {
	return []string{"-o", iface, "-m", "comment", "--comment", tag, "-j", "MASQUERADE"}
}

func (g *IPTablesGateway) clients(ipv6 bool) ([]*iptables.IPTables, error) {
	v4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, err
	}
	clients := []*iptables.IPTables{v4}
	if ipv6 {
		v6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
		if err != nil {
			return nil, err
		}
		clients = append(clients, v6)
	}
	return clients, nil
}

// Add inserts a MASQUERADE rule at the head of nat/POSTROUTING for iface,
// tagged tag. See Gateway.Add.
func (g *IPTablesGateway) Add(iface, tag string, ipv6 bool) error {
	clients, err := g.clients(ipv6)
	if err != nil {
		return &Error{Op: "add", Chain: postroutingChain, Err: err}
	}

	spec := rulespec(iface, tag)
	for _, c := range clients {
		if err := c.Insert("nat", postroutingChain, 1, spec...); err != nil {
			return &Error{Op: "add", Chain: postroutingChain, Err: err}
		}
	}

	g.logger.Debug("masquerade rule added",
		"component", "firewall",
		"interface", iface,
		"tag", tag,
		"ipv6", ipv6,
	)
	return nil
}

// Del removes the rule Add installed with the same arguments. A failure
// during teardown is logged but returned so the caller can decide
// whether to treat it as fatal; it never panics or retries.
func (g *IPTablesGateway) Del(iface, tag string, ipv6 bool) error {
	clients, err := g.clients(ipv6)
	if err != nil {
		return &Error{Op: "del", Chain: postroutingChain, Err: err}
	}

	spec := rulespec(iface, tag)
	var firstErr error
	for _, c := range clients {
		exists, err := c.Exists("nat", postroutingChain, spec...)
		if err != nil {
			if firstErr == nil {
				firstErr = &Error{Op: "del", Chain: postroutingChain, Err: err}
			}
			continue
		}
		if !exists {
			continue
		}
		if err := c.Delete("nat", postroutingChain, spec...); err != nil {
			g.logger.Warn("failed to remove masquerade rule",
				"component", "firewall",
				"interface", iface,
				"tag", tag,
				"error", err,
			)
			if firstErr == nil {
				firstErr = &Error{Op: "del", Chain: postroutingChain, Err: err}
			}
		}
	}

	g.logger.Debug("masquerade rule removed",
		"component", "firewall",
		"interface", iface,
		"tag", tag,
		"ipv6", ipv6,
	)
	return firstErr
}

// List returns every masquerade entry in nat/POSTROUTING (IPv4 and IPv6)
// whose comment starts with tagPrefix.
func (g *IPTablesGateway) List(tagPrefix string) ([]Entry, error) {
	var out []Entry
	for _, ipv6 := range []bool{false, true} {
		proto := iptables.ProtocolIPv4
		if ipv6 {
			proto = iptables.ProtocolIPv6
		}
		c, err := iptables.NewWithProtocol(proto)
		if err != nil {
			return nil, &Error{Op: "list", Chain: postroutingChain, Err: err}
		}
		lines, err := c.List("nat", postroutingChain)
		if err != nil {
			return nil, &Error{Op: "list", Chain: postroutingChain, Err: err}
		}
		for _, line := range lines {
			iface, tag, ok := parseMasqueradeLine(line)
			if !ok || !strings.HasPrefix(tag, tagPrefix) {
				continue
			}
			out = append(out, Entry{Iface: iface, Tag: tag, IPv6: ipv6})
		}
	}
	return out, nil
}

// parseMasqueradeLine extracts the -o interface and --comment tag from a
// single iptables-save-style rule line, e.g.
// "-A POSTROUTING -o wg0 -m comment --comment wg0 -j MASQUERADE".
func parseMasqueradeLine(line string) (iface, tag string, ok bool) {
	fields := strings.Fields(line)
	for i, f := range fields {
		switch f {
		case "-o":
			if i+1 < len(fields) {
				iface = fields[i+1]
			}
		case "--comment":
			if i+1 < len(fields) {
				tag = strings.Trim(fields[i+1], `"`)
			}
		}
	}
	return iface, tag, iface != "" && tag != ""
}
