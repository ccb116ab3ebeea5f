// Package netlinkgwfake provides an in-memory implementation of
// netlinkgw.Gateway for use in tests that exercise routing.Engine and
// policy.Policy without touching the kernel. It deliberately keeps no
// hidden invariants beyond what a real kernel would enforce (e.g. it
// does not reject overlapping routes), so tests assert the invariants
// themselves.
package netlinkgwfake

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/wepwawet/wepwawet/internal/netlinkgw"
)

// Fake is an in-memory netlinkgw.Gateway. The zero value is not usable;
// construct with New.
type Fake struct {
	mu sync.Mutex

	nsName string
	root   *state // shared by the host Fake and every Fake returned by Ns

	// Calls records every method invocation for assertions in tests.
	Calls []string
}

type state struct {
	mu sync.Mutex

	nextLinkIndex int
	links         map[string]int // name -> index, per "global" link table (host only, simplified)
	linkNs        map[string]string // link name -> namespace it currently lives in ("" = host)
	addrs         []netlinkgw.Addr
	routes        []netlinkgw.Route
	rules         []netlinkgw.Rule
	netns         map[string]bool
}

// New returns a Fake gateway representing the host namespace, seeded
// with a single link named tunnelIface (so RoutingEngine.Up's initial
// link_lookup succeeds) plus "lo".
func New(tunnelIface string) *Fake {
	s := &state{
		links:  map[string]int{"lo": 1, tunnelIface: 2},
		linkNs: map[string]string{"lo": "", tunnelIface: ""},
		netns:  map[string]bool{},
	}
	s.nextLinkIndex = 3
	return &Fake{root: s}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()
}

func (f *Fake) GetLinks() ([]netlinkgw.Link, error) {
	f.record("GetLinks")
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	var out []netlinkgw.Link
	names := make([]string, 0, len(f.root.links))
	for name, ns := range f.root.linkNs {
		if ns == f.nsName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, netlinkgw.Link{Index: f.root.links[name], Name: name})
	}
	return out, nil
}

func (f *Fake) LinkLookup(name string) (int, error) {
	f.record("LinkLookup:" + name)
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	idx, ok := f.root.links[name]
	if !ok || f.root.linkNs[name] != f.nsName {
		return 0, fmt.Errorf("netlinkgwfake: link %q not found in ns %q", name, f.nsName)
	}
	return idx, nil
}

func (f *Fake) LinkAddVeth(outerName, innerName string) error {
	f.record("LinkAddVeth:" + outerName + "/" + innerName)
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	for _, n := range []string{outerName, innerName} {
		if _, ok := f.root.links[n]; ok {
			return fmt.Errorf("netlinkgwfake: link %q already exists", n)
		}
	}
	f.root.links[outerName] = f.root.nextLinkIndex
	f.root.nextLinkIndex++
	f.root.linkNs[outerName] = f.nsName
	f.root.links[innerName] = f.root.nextLinkIndex
	f.root.nextLinkIndex++
	f.root.linkNs[innerName] = f.nsName
	return nil
}

func (f *Fake) LinkSetNsByName(name string, nsName string) error {
	f.record("LinkSetNsByName:" + name + "->" + nsName)
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	if _, ok := f.root.links[name]; !ok {
		return fmt.Errorf("netlinkgwfake: link %q not found", name)
	}
	f.root.linkNs[name] = nsName
	return nil
}

func (f *Fake) LinkDel(name string) error {
	f.record("LinkDel:" + name)
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	delete(f.root.links, name)
	delete(f.root.linkNs, name)
	return nil
}

func (f *Fake) LinkSetUp(name string) error {
	f.record("LinkSetUp:" + name)
	return nil
}

func (f *Fake) AddrAdd(linkName string, ipNet *net.IPNet, family netlinkgw.Family) error {
	f.record("AddrAdd:" + linkName + ":" + ipNet.String())
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	idx := f.root.links[linkName]
	f.root.addrs = append(f.root.addrs, netlinkgw.Addr{LinkIndex: idx, IPNet: ipNet, Family: family})
	return nil
}

func (f *Fake) GetAddrs() ([]netlinkgw.Addr, error) {
	f.record("GetAddrs")
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	out := make([]netlinkgw.Addr, len(f.root.addrs))
	copy(out, f.root.addrs)
	return out, nil
}

func (f *Fake) RouteAdd(r netlinkgw.Route) error {
	f.record(fmt.Sprintf("RouteAdd:%+v", r))
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	f.root.routes = append(f.root.routes, r)
	return nil
}

func (f *Fake) RouteDel(r netlinkgw.Route) error {
	f.record(fmt.Sprintf("RouteDel:%+v", r))
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	out := f.root.routes[:0]
	removed := false
	for _, existing := range f.root.routes {
		if !removed && routeEqual(existing, r) {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	f.root.routes = out
	return nil
}

func routeEqual(a, b netlinkgw.Route) bool {
	if a.Table != b.Table || a.Family != b.Family || a.OifIndex != b.OifIndex || a.Type != b.Type {
		return false
	}
	return cidrEqual(a.Dst, b.Dst)
}

func cidrEqual(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

func (f *Fake) GetRoutes() ([]netlinkgw.Route, error) {
	f.record("GetRoutes")
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	out := make([]netlinkgw.Route, len(f.root.routes))
	copy(out, f.root.routes)
	return out, nil
}

func (f *Fake) FlushRoutes(table int, family netlinkgw.Family) error {
	f.record(fmt.Sprintf("FlushRoutes:%d/%d", table, family))
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	out := f.root.routes[:0]
	for _, r := range f.root.routes {
		if r.Table == table && r.Family == family {
			continue
		}
		out = append(out, r)
	}
	f.root.routes = out
	return nil
}

func (f *Fake) RuleAdd(r netlinkgw.Rule) error {
	f.record(fmt.Sprintf("RuleAdd:%+v", r))
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	f.root.rules = append(f.root.rules, r)
	return nil
}

func (f *Fake) GetRules() ([]netlinkgw.Rule, error) {
	f.record("GetRules")
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	out := make([]netlinkgw.Rule, len(f.root.rules))
	copy(out, f.root.rules)
	return out, nil
}

func (f *Fake) FlushRules(table int, family netlinkgw.Family) error {
	f.record(fmt.Sprintf("FlushRules:%d/%d", table, family))
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	out := f.root.rules[:0]
	for _, r := range f.root.rules {
		if r.Table == table && r.Family == family {
			continue
		}
		out = append(out, r)
	}
	f.root.rules = out
	return nil
}

func (f *Fake) NetnsList() ([]string, error) {
	f.record("NetnsList")
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	var out []string
	for name := range f.root.netns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (f *Fake) NetnsAdd(name string) error {
	f.record("NetnsAdd:" + name)
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	f.root.netns[name] = true
	return nil
}

func (f *Fake) NetnsDel(name string) error {
	f.record("NetnsDel:" + name)
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	delete(f.root.netns, name)
	return nil
}

func (f *Fake) Ns(name string) (netlinkgw.Gateway, error) {
	f.record("Ns:" + name)
	f.root.mu.Lock()
	_, ok := f.root.netns[name]
	f.root.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("netlinkgwfake: namespace %q does not exist", name)
	}
	return &Fake{root: f.root, nsName: name}, nil
}

func (f *Fake) Close() error { return nil }

// Snapshot is a point-in-time copy of all kernel-visible state tracked
// by the fake, used by tests to assert property (P1): that Up();Down()
// leaves the world byte-identical to before Up().
type Snapshot struct {
	Links map[string]string // name -> namespace
	Addrs []netlinkgw.Addr
	Routes []netlinkgw.Route
	Rules []netlinkgw.Rule
	Netns []string
}

// Snapshot captures the current state visible from the host Fake.
func (f *Fake) Snapshot() Snapshot {
	f.root.mu.Lock()
	defer f.root.mu.Unlock()

	links := make(map[string]string, len(f.root.linkNs))
	for k, v := range f.root.linkNs {
		links[k] = v
	}
	netns := make([]string, 0, len(f.root.netns))
	for n := range f.root.netns {
		netns = append(netns, n)
	}
	sort.Strings(netns)

	return Snapshot{
		Links:  links,
		Addrs:  append([]netlinkgw.Addr(nil), f.root.addrs...),
		Routes: append([]netlinkgw.Route(nil), f.root.routes...),
		Rules:  append([]netlinkgw.Rule(nil), f.root.rules...),
		Netns:  netns,
	}
}
