// Package allocator discovers unused kernel resources — routing table
// IDs, network-namespace names, veth link names, and private IPv4 /30
// subnets — by querying a netlinkgw.Gateway snapshot. Every function
// here is a pure function of that snapshot: given the same kernel
// state, it returns the same result (lowest integer / first RFC1918
// supernet wins ties).
package allocator

import (
	"fmt"
	"net"

	"github.com/wepwawet/wepwawet/internal/netlinkgw"
)

// MinTableID is the smallest routing-table ID this module will ever
// allocate, chosen to stay well clear of table IDs the kernel or other
// tools commonly use (main/default/local are 254/253/255).
const MinTableID = 10111

// ErrorKind classifies an AllocationError.
type ErrorKind int

// Kinds of allocation failure.
const (
	KindTableExhausted ErrorKind = iota
	KindTableInUse
	KindSubnetExhausted
)

// Error is returned when the resource space is exhausted or a
// caller-requested resource is already in use.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("allocator: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Allocator discovers free kernel resources via a netlinkgw.Gateway.
type Allocator struct {
	gw netlinkgw.Gateway
}

// New returns an Allocator backed by gw.
func New(gw netlinkgw.Gateway) *Allocator {
	return &Allocator{gw: gw}
}

// FindFreeTable scans FRA_TABLE values across every rule on the host
// and returns the smallest integer >= start not present in that set.
func (a *Allocator) FindFreeTable(start int) (int, error) {
	inUse, err := a.tableSet()
	if err != nil {
		return 0, err
	}

	for id := start; id > 0; id++ {
		if !inUse[id] {
			return id, nil
		}
		if id == start+1<<20 {
			// Defensive bound: the host would need over a million
			// live tables for this to trigger on a real system.
			return 0, &Error{Kind: KindTableExhausted, Err: fmt.Errorf("no free table id found from %d", start)}
		}
	}
	return 0, &Error{Kind: KindTableExhausted, Err: fmt.Errorf("table id space exhausted")}
}

// IsTableInUse reports whether id appears as the table of any existing
// rule on the host.
func (a *Allocator) IsTableInUse(id int) (bool, error) {
	inUse, err := a.tableSet()
	if err != nil {
		return false, err
	}
	return inUse[id], nil
}

func (a *Allocator) tableSet() (map[int]bool, error) {
	rules, err := a.gw.GetRules()
	if err != nil {
		return nil, fmt.Errorf("allocator: find free table: %w", err)
	}
	inUse := make(map[int]bool, len(rules))
	for _, r := range rules {
		inUse[r.Table] = true
	}
	return inUse, nil
}

// FindFreeNetnsName returns the first name "<base>N" (N starting at 0)
// not present among the host's named network namespaces.
func (a *Allocator) FindFreeNetnsName(base string) (string, error) {
	existing, err := a.gw.NetnsList()
	if err != nil {
		return "", fmt.Errorf("allocator: find free netns name: %w", err)
	}
	return firstFreeName(base, toSet(existing)), nil
}

// FindFreeLinkName returns the first name "<base>N" (N starting at 0)
// not present among the host's network links.
func (a *Allocator) FindFreeLinkName(base string) (string, error) {
	links, err := a.gw.GetLinks()
	if err != nil {
		return "", fmt.Errorf("allocator: find free link name: %w", err)
	}
	names := make([]string, len(links))
	for i, l := range links {
		names[i] = l.Name
	}
	return firstFreeName(base, toSet(names)), nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func firstFreeName(base string, taken map[string]bool) string {
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// rfc1918Supernets are scanned in this declared order; ties between
// otherwise-equal candidates resolve to whichever supernet comes first
// here.
var rfc1918Supernets = []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

// FindUnallocatedIPv4Subnet enumerates /prefixLen subnets of the three
// RFC1918 supernets in declared order and returns the first one that
// overlaps no route and no interface address currently on the host.
func (a *Allocator) FindUnallocatedIPv4Subnet(prefixLen int) (*net.IPNet, error) {
	routes, err := a.gw.GetRoutes()
	if err != nil {
		return nil, fmt.Errorf("allocator: find unallocated subnet: %w", err)
	}
	addrs, err := a.gw.GetAddrs()
	if err != nil {
		return nil, fmt.Errorf("allocator: find unallocated subnet: %w", err)
	}

	var occupied []*net.IPNet
	for _, r := range routes {
		if r.Family == netlinkgw.FamilyV4 && r.Dst != nil {
			occupied = append(occupied, r.Dst)
		}
	}
	for _, ad := range addrs {
		if ad.Family == netlinkgw.FamilyV4 && ad.IPNet != nil {
			occupied = append(occupied, ad.IPNet)
		}
	}

	for _, supernetCIDR := range rfc1918Supernets {
		_, supernet, _ := net.ParseCIDR(supernetCIDR)
		if candidate := firstFreeSubnet(supernet, prefixLen, occupied); candidate != nil {
			return candidate, nil
		}
	}

	return nil, &Error{Kind: KindSubnetExhausted, Err: fmt.Errorf("no unallocated /%d subnet found in RFC1918 space", prefixLen)}
}

// firstFreeSubnet walks every /prefixLen subnet of supernet in ascending
// numeric order and returns the first that overlaps none of occupied.
// Subnets are generated one at a time rather than materialized up
// front — a /8 scanned at /30 is over four million candidates.
func firstFreeSubnet(supernet *net.IPNet, prefixLen int, occupied []*net.IPNet) *net.IPNet {
	ones, _ := supernet.Mask.Size()
	if prefixLen < ones {
		return nil
	}
	count := 1 << uint(prefixLen-ones)
	step := uint32(1) << uint(32-prefixLen)
	base := ipToUint32(supernet.IP)

	for i := 0; i < count; i++ {
		candidate := &net.IPNet{IP: uint32ToIP(base + uint32(i)*step), Mask: net.CIDRMask(prefixLen, 32)}
		if !overlapsAny(candidate, occupied) {
			return candidate
		}
	}
	return nil
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func overlapsAny(n *net.IPNet, others []*net.IPNet) bool {
	for _, o := range others {
		if netsOverlap(n, o) {
			return true
		}
	}
	return false
}

func netsOverlap(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}
