// Package netlinkgw is a synchronous façade over rtnetlink (links,
// addresses, routes, rules) and Linux network namespaces. It is the
// only package in this module that speaks to the kernel's routing
// control plane directly.
package netlinkgw

import "net"

// Family selects an address family for an operation.
type Family int

// Supported address families.
const (
	FamilyV4 Family = iota
	FamilyV6
)

// RuleAction is the terminal action of a routing-policy rule.
type RuleAction int

// Supported rule actions.
const (
	// ActionToTable routes matching packets through the rule's table.
	ActionToTable RuleAction = iota
	// ActionProhibit administratively prohibits matching packets
	// (used for killswitch rules).
	ActionProhibit
)

// RouteType distinguishes a normal unicast route from a blackhole-style
// route installed to stop traffic from leaking onto the default table.
type RouteType int

// Supported route types.
const (
	RouteTypeUnicast RouteType = iota
	RouteTypeProhibit
)

// Link is a minimal view of a network interface.
type Link struct {
	Index int
	Name  string
}

// Addr is an address assigned to a link.
type Addr struct {
	LinkIndex int
	IPNet     *net.IPNet
	Family    Family
}

// Route is a single routing-table entry.
type Route struct {
	Table    int
	Dst      *net.IPNet // nil means "default"
	OifIndex int
	Gateway  net.IP
	Family   Family
	Priority int
	Type     RouteType
}

// UIDRange selects packets by the originating process's uid, inclusive
// on both ends.
type UIDRange struct {
	Start uint32
	End   uint32
}

// Rule is a single policy-routing rule (`ip rule`).
type Rule struct {
	Table    int
	Priority int
	Family   Family
	Action   RuleAction

	// Selector — exactly one of UIDRange or IifName is set.
	UIDRange *UIDRange
	IifName  string
}

// Gateway is the contract the rest of this module uses to talk to the
// kernel. All operations are synchronous request/response; none retry.
// A Gateway obtained via Ns() operates inside the named namespace for
// the lifetime of the returned value.
type Gateway interface {
	// Links
	GetLinks() ([]Link, error)
	LinkLookup(name string) (int, error)
	LinkAddVeth(outerName, innerName string) error
	LinkSetNsByName(name string, nsName string) error
	LinkDel(name string) error
	LinkSetUp(name string) error

	// Addresses
	AddrAdd(linkName string, ipNet *net.IPNet, family Family) error
	GetAddrs() ([]Addr, error)

	// Routes
	RouteAdd(r Route) error
	RouteDel(r Route) error
	GetRoutes() ([]Route, error)
	FlushRoutes(table int, family Family) error

	// Rules
	RuleAdd(r Rule) error
	GetRules() ([]Rule, error)
	FlushRules(table int, family Family) error

	// Namespaces
	NetnsList() ([]string, error)
	NetnsAdd(name string) error
	NetnsDel(name string) error
	Ns(name string) (Gateway, error)

	// Close releases any handles held by this Gateway (e.g. an open
	// namespace file descriptor obtained via Ns). Closing the
	// top-level, non-namespaced Gateway is a no-op.
	Close() error
}
