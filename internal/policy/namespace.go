package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/wepwawet/wepwawet/internal/fsutil"
	"github.com/wepwawet/wepwawet/internal/netlinkgw"
)

// netnsConfDir is where a per-namespace resolv.conf must live for it to
// be picked up automatically by processes run inside that namespace
// (see resolv.conf(5) and ip-netns(8)).
const netnsConfDir = "/etc/netns"

// NamespacePolicy creates a fresh network namespace, a veth pair
// connecting it to the host, and a policy rule steering traffic
// arriving on the host side of that veth through Table.
//
// All identifiers (NSName, OuterName, InnerName, Subnet) must already
// be reserved by the caller via allocator.Allocator before
// constructing a NamespacePolicy — mirroring how callers must allocate
// the engine's table ID before constructing a RoutingEngine (spec.md
// §5). This keeps allocation a pure, inspectable step independent of
// the imperative Up/Down lifecycle.
type NamespacePolicy struct {
	GW     netlinkgw.Gateway
	Logger *slog.Logger

	Table int

	NSName    string
	OuterName string
	InnerName string
	Subnet    *net.IPNet // a /30; host gets .1, namespace gets .2

	DNS        []string
	Killswitch bool
	IPv6       bool
	Priority   int // base priority; killswitch uses Priority+1

	// ResolvConfDir overrides netnsConfDir for tests; empty means the
	// real "/etc/netns" used in production.
	ResolvConfDir string

	// done tracks which steps of Up succeeded, so Down can be called
	// safely after a partial Up and tolerate missing objects.
	done struct {
		netnsCreated bool
		vethCreated  bool
		vethMoved    bool
		dnsWritten   bool
	}
}

var _ Policy = (*NamespacePolicy)(nil)

func (p *NamespacePolicy) hostAddr() *net.IPNet {
	return offsetAddr(p.Subnet, 1)
}

func (p *NamespacePolicy) nsAddr() *net.IPNet {
	return offsetAddr(p.Subnet, 2)
}

func offsetAddr(subnet *net.IPNet, n byte) *net.IPNet {
	ip := make(net.IP, len(subnet.IP.To4()))
	copy(ip, subnet.IP.To4())
	ip[3] += n
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(30, 32)}
}

// Up creates the namespace, veth pair, addresses, default route, and
// policy rule, in the order spec.md §4.D requires: the namespace must
// exist before the peer can be moved into it; addresses must exist
// before the interfaces come up; the namespace default route requires
// the host side to already be up; the rule must reference an existing
// interface.
func (p *NamespacePolicy) Up(_ context.Context) error {
	if err := p.GW.NetnsAdd(p.NSName); err != nil {
		return fmt.Errorf("policy: namespace: create %q: %w", p.NSName, err)
	}
	p.done.netnsCreated = true

	if err := p.GW.LinkAddVeth(p.OuterName, p.InnerName); err != nil {
		return fmt.Errorf("policy: namespace: create veth %s/%s: %w", p.OuterName, p.InnerName, err)
	}
	p.done.vethCreated = true

	if err := p.GW.LinkSetNsByName(p.InnerName, p.NSName); err != nil {
		return fmt.Errorf("policy: namespace: move %s into %s: %w", p.InnerName, p.NSName, err)
	}
	p.done.vethMoved = true

	if err := p.GW.AddrAdd(p.OuterName, p.hostAddr(), netlinkgw.FamilyV4); err != nil {
		return fmt.Errorf("policy: namespace: address host side: %w", err)
	}

	nsGW, err := p.GW.Ns(p.NSName)
	if err != nil {
		return fmt.Errorf("policy: namespace: open %q: %w", p.NSName, err)
	}
	defer nsGW.Close()

	if err := nsGW.AddrAdd(p.InnerName, p.nsAddr(), netlinkgw.FamilyV4); err != nil {
		return fmt.Errorf("policy: namespace: address ns side: %w", err)
	}

	if err := p.GW.LinkSetUp(p.OuterName); err != nil {
		return fmt.Errorf("policy: namespace: bring up %s: %w", p.OuterName, err)
	}
	if err := nsGW.LinkSetUp(p.InnerName); err != nil {
		return fmt.Errorf("policy: namespace: bring up %s: %w", p.InnerName, err)
	}

	if err := nsGW.RouteAdd(netlinkgw.Route{
		Table:   0,
		Dst:     nil,
		Gateway: p.hostAddr().IP,
		Family:  netlinkgw.FamilyV4,
	}); err != nil {
		return fmt.Errorf("policy: namespace: default route: %w", err)
	}

	families := []netlinkgw.Family{netlinkgw.FamilyV4}
	if p.IPv6 {
		families = append(families, netlinkgw.FamilyV6)
	}

	for _, fam := range families {
		if err := p.GW.RuleAdd(netlinkgw.Rule{
			Table:    p.Table,
			Priority: p.Priority,
			Family:   fam,
			Action:   netlinkgw.ActionToTable,
			IifName:  p.OuterName,
		}); err != nil {
			return fmt.Errorf("policy: namespace: rule: %w", err)
		}
		if p.Killswitch {
			if err := p.GW.RuleAdd(netlinkgw.Rule{
				Table:    p.Table,
				Priority: p.Priority + 1,
				Family:   fam,
				Action:   netlinkgw.ActionProhibit,
				IifName:  p.OuterName,
			}); err != nil {
				return fmt.Errorf("policy: namespace: killswitch rule: %w", err)
			}
		}
	}

	if len(p.DNS) > 0 {
		if err := p.writeResolvConf(); err != nil {
			return fmt.Errorf("policy: namespace: resolv.conf: %w", err)
		}
		p.done.dnsWritten = true
	}

	p.Logger.Info("namespace policy up",
		"component", "policy",
		"namespace", p.NSName,
		"outer", p.OuterName,
		"inner", p.InnerName,
		"subnet", p.Subnet,
	)
	return nil
}

func (p *NamespacePolicy) resolvConfDir() string {
	base := netnsConfDir
	if p.ResolvConfDir != "" {
		base = p.ResolvConfDir
	}
	return filepath.Join(base, p.NSName)
}

func (p *NamespacePolicy) writeResolvConf() error {
	dir := p.resolvConfDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var sb strings.Builder
	for _, addr := range p.DNS {
		sb.WriteString("nameserver ")
		sb.WriteString(addr)
		sb.WriteString("\n")
	}
	return fsutil.WriteFileAtomic(dir, "resolv.conf", []byte(sb.String()), 0o644)
}

// Down deletes the outer veth end (which implicitly removes the inner
// end), removes the namespace, and removes the resolv.conf directory
// if one was written. It tolerates any of these already being gone, so
// it is safe to call after a partial Up or a second time.
func (p *NamespacePolicy) Down() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.done.vethCreated || p.done.vethMoved {
		record(p.GW.LinkDel(p.OuterName))
	}

	if p.done.netnsCreated {
		record(p.GW.NetnsDel(p.NSName))
	}

	if p.done.dnsWritten {
		record(os.RemoveAll(p.resolvConfDir()))
	}

	p.Logger.Info("namespace policy down",
		"component", "policy",
		"namespace", p.NSName,
	)
	return firstErr
}
