//go:build linux

package netlinkgw

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// netnsDir is where named network namespaces are bind-mounted by
// "ip netns add" and by netns.NewNamed, mirroring iproute2's layout.
const netnsDir = "/var/run/netns"

// linuxGateway is the Linux implementation of Gateway, backed by
// vishvananda/netlink and vishvananda/netns. A zero-value nsName means
// "operate in the calling process's current namespace" (the host, in
// the common case). A non-empty nsName means every operation first
// switches the calling OS thread into that named namespace and back.
type linuxGateway struct {
	nsName string
}

// New returns a Gateway operating in the caller's current network
// namespace.
func New() Gateway {
	return &linuxGateway{}
}

func familyToUnix(f Family) int {
	if f == FamilyV6 {
		return netlink.FAMILY_V6
	}
	return netlink.FAMILY_V4
}

// withNs runs fn with the calling OS thread switched into g's target
// namespace, if any, and switches back before returning. It is a no-op
// wrapper for the host gateway.
func (g *linuxGateway) withNs(fn func() error) error {
	if g.nsName == "" {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return fmt.Errorf("netlinkgw: get current netns: %w", err)
	}
	defer orig.Close()

	target, err := netns.GetFromName(g.nsName)
	if err != nil {
		return fmt.Errorf("netlinkgw: open netns %q: %w", g.nsName, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("netlinkgw: enter netns %q: %w", g.nsName, err)
	}
	defer netns.Set(orig)

	return fn()
}

func (g *linuxGateway) GetLinks() ([]Link, error) {
	var out []Link
	err := g.withNs(func() error {
		links, err := netlink.LinkList()
		if err != nil {
			return err
		}
		for _, l := range links {
			attrs := l.Attrs()
			out = append(out, Link{Index: attrs.Index, Name: attrs.Name})
		}
		return nil
	})
	return out, wrapErr("get_links", "", err)
}

func (g *linuxGateway) LinkLookup(name string) (int, error) {
	var idx int
	err := g.withNs(func() error {
		l, err := netlink.LinkByName(name)
		if err != nil {
			return err
		}
		idx = l.Attrs().Index
		return nil
	})
	if err != nil {
		return 0, wrapErr("link_lookup", name, err)
	}
	return idx, nil
}

func (g *linuxGateway) LinkAddVeth(outerName, innerName string) error {
	err := g.withNs(func() error {
		veth := &netlink.Veth{
			LinkAttrs: netlink.LinkAttrs{Name: outerName},
			PeerName:  innerName,
		}
		return netlink.LinkAdd(veth)
	})
	return wrapErr("link_add_veth", fmt.Sprintf("%s/%s", outerName, innerName), err)
}

// LinkSetNsByName moves the named link (which must currently be visible
// in g's namespace) into the namespace named nsName.
func (g *linuxGateway) LinkSetNsByName(name string, nsName string) error {
	err := g.withNs(func() error {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return err
		}
		target, err := netns.GetFromName(nsName)
		if err != nil {
			return fmt.Errorf("open target netns %q: %w", nsName, err)
		}
		defer target.Close()
		return netlink.LinkSetNsFd(link, int(target))
	})
	return wrapErr("link_set_ns", fmt.Sprintf("%s -> %s", name, nsName), err)
}

func (g *linuxGateway) LinkDel(name string) error {
	err := g.withNs(func() error {
		link, err := netlink.LinkByName(name)
		if err != nil {
			if _, ok := err.(netlink.LinkNotFoundError); ok {
				return nil
			}
			return err
		}
		return netlink.LinkDel(link)
	})
	return wrapErr("link_del", name, err)
}

func (g *linuxGateway) LinkSetUp(name string) error {
	err := g.withNs(func() error {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return err
		}
		return netlink.LinkSetUp(link)
	})
	return wrapErr("link_set_up", name, err)
}

func (g *linuxGateway) AddrAdd(linkName string, ipNet *net.IPNet, family Family) error {
	err := g.withNs(func() error {
		link, err := netlink.LinkByName(linkName)
		if err != nil {
			return err
		}
		addr := &netlink.Addr{IPNet: ipNet}
		if err := netlink.AddrAdd(link, addr); err != nil {
			if os.IsExist(err) || err == unix.EEXIST {
				return nil
			}
			return err
		}
		return nil
	})
	return wrapErr("addr_add", fmt.Sprintf("%s %s", linkName, ipNet), err)
}

func (g *linuxGateway) GetAddrs() ([]Addr, error) {
	var out []Addr
	err := g.withNs(func() error {
		links, err := netlink.LinkList()
		if err != nil {
			return err
		}
		for _, l := range links {
			addrs, err := netlink.AddrList(l, netlink.FAMILY_ALL)
			if err != nil {
				return err
			}
			for _, a := range addrs {
				fam := FamilyV4
				if a.IP.To4() == nil {
					fam = FamilyV6
				}
				out = append(out, Addr{LinkIndex: l.Attrs().Index, IPNet: a.IPNet, Family: fam})
			}
		}
		return nil
	})
	return out, wrapErr("get_addrs", "", err)
}

func toNetlinkRoute(r Route) *netlink.Route {
	nr := &netlink.Route{
		Table:    r.Table,
		LinkIndex: r.OifIndex,
		Dst:      r.Dst,
		Gw:       r.Gateway,
		Priority: r.Priority,
	}
	if r.Type == RouteTypeProhibit {
		nr.Type = unix.RTN_PROHIBIT
	}
	return nr
}

func (g *linuxGateway) RouteAdd(r Route) error {
	err := g.withNs(func() error {
		return netlink.RouteAdd(toNetlinkRoute(r))
	})
	return wrapErr("route_add", routeDesc(r), err)
}

func (g *linuxGateway) RouteDel(r Route) error {
	err := g.withNs(func() error {
		err := netlink.RouteDel(toNetlinkRoute(r))
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err
	})
	return wrapErr("route_del", routeDesc(r), err)
}

func routeDesc(r Route) string {
	dst := "default"
	if r.Dst != nil {
		dst = r.Dst.String()
	}
	return fmt.Sprintf("table=%d dst=%s", r.Table, dst)
}

func (g *linuxGateway) GetRoutes() ([]Route, error) {
	var out []Route
	err := g.withNs(func() error {
		for _, fam := range []Family{FamilyV4, FamilyV6} {
			routes, err := netlink.RouteListFiltered(familyToUnix(fam), &netlink.Route{}, 0)
			if err != nil {
				return err
			}
			for _, rt := range routes {
				rtype := RouteTypeUnicast
				if rt.Type == unix.RTN_PROHIBIT || rt.Type == unix.RTN_BLACKHOLE {
					rtype = RouteTypeProhibit
				}
				out = append(out, Route{
					Table:    rt.Table,
					Dst:      rt.Dst,
					OifIndex: rt.LinkIndex,
					Gateway:  rt.Gw,
					Family:   fam,
					Priority: rt.Priority,
					Type:     rtype,
				})
			}
		}
		return nil
	})
	return out, wrapErr("get_routes", "", err)
}

func (g *linuxGateway) FlushRoutes(table int, family Family) error {
	err := g.withNs(func() error {
		routes, err := netlink.RouteListFiltered(familyToUnix(family), &netlink.Route{Table: table}, netlink.RT_FILTER_TABLE)
		if err != nil {
			return err
		}
		for _, rt := range routes {
			route := rt
			if err := netlink.RouteDel(&route); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	})
	return wrapErr("flush_routes", fmt.Sprintf("table=%d", table), err)
}

func toNetlinkRule(r Rule) *netlink.Rule {
	nr := netlink.NewRule()
	nr.Table = r.Table
	nr.Priority = r.Priority
	if r.UIDRange != nil {
		nr.UidRange = &netlink.RuleUIDRange{Start: r.UIDRange.Start, End: r.UIDRange.End}
	}
	if r.IifName != "" {
		nr.IifName = r.IifName
	}
	if r.Action == ActionProhibit {
		nr.Type = unix.RTN_PROHIBIT
	}
	nr.Family = familyToUnix(r.Family)
	return nr
}

func (g *linuxGateway) RuleAdd(r Rule) error {
	err := g.withNs(func() error {
		return netlink.RuleAdd(toNetlinkRule(r))
	})
	return wrapErr("rule_add", ruleDesc(r), err)
}

func ruleDesc(r Rule) string {
	if r.UIDRange != nil {
		return fmt.Sprintf("uid=%d:%d table=%d prio=%d", r.UIDRange.Start, r.UIDRange.End, r.Table, r.Priority)
	}
	return fmt.Sprintf("iif=%s table=%d prio=%d", r.IifName, r.Table, r.Priority)
}

func (g *linuxGateway) GetRules() ([]Rule, error) {
	var out []Rule
	err := g.withNs(func() error {
		for _, fam := range []Family{FamilyV4, FamilyV6} {
			rules, err := netlink.RuleList(familyToUnix(fam))
			if err != nil {
				return err
			}
			for _, rl := range rules {
				action := ActionToTable
				if rl.Type == unix.RTN_PROHIBIT {
					action = ActionProhibit
				}
				rule := Rule{
					Table:    rl.Table,
					Priority: rl.Priority,
					Family:   fam,
					Action:   action,
					IifName:  rl.IifName,
				}
				if rl.UidRange != nil {
					rule.UIDRange = &UIDRange{Start: rl.UidRange.Start, End: rl.UidRange.End}
				}
				out = append(out, rule)
			}
		}
		return nil
	})
	return out, wrapErr("get_rules", "", err)
}

func (g *linuxGateway) FlushRules(table int, family Family) error {
	err := g.withNs(func() error {
		rules, err := netlink.RuleList(familyToUnix(family))
		if err != nil {
			return err
		}
		for _, rl := range rules {
			if rl.Table != table {
				continue
			}
			rule := rl
			if err := netlink.RuleDel(&rule); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	})
	return wrapErr("flush_rules", fmt.Sprintf("table=%d", table), err)
}

func (g *linuxGateway) NetnsList() ([]string, error) {
	entries, err := os.ReadDir(netnsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrapErr("netns_list", netnsDir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (g *linuxGateway) NetnsAdd(name string) error {
	h, err := netns.NewNamed(name)
	if err != nil {
		return wrapErr("netns_add", name, err)
	}
	return h.Close()
}

func (g *linuxGateway) NetnsDel(name string) error {
	err := netns.DeleteNamed(name)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return wrapErr("netns_del", name, err)
}

func (g *linuxGateway) Ns(name string) (Gateway, error) {
	if _, err := os.Stat(filepath.Join(netnsDir, name)); err != nil {
		return nil, wrapErr("ns_open", name, err)
	}
	return &linuxGateway{nsName: name}, nil
}

// Close is a no-op: linuxGateway does not hold a persistent namespace
// handle between calls, host or namespaced.
func (g *linuxGateway) Close() error { return nil }
