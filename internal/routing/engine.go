// Package routing materialises the base routing table over a tunnel
// interface, installs exemption routes for "do-not-tunnel" networks,
// orchestrates the configured policies, and guarantees idempotent
// cleanup of everything it creates — the RoutingEngine of spec.md
// §4.E, and the central orchestrator of this module.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/wepwawet/wepwawet/internal/firewall"
	"github.com/wepwawet/wepwawet/internal/netlinkgw"
	"github.com/wepwawet/wepwawet/internal/policy"
)

type lifecycleState int

const (
	stateNew lifecycleState = iota
	stateActive
	stateTerminated
)

// Engine is a RoutingContext: it owns one routing table over one
// tunnel interface, an ordered list of policies, and the exemption
// networks that must bypass the tunnel.
type Engine struct {
	GW netlinkgw.Gateway
	FW firewall.Gateway

	Iface         string
	TableID       int
	IPv6Enabled   bool
	ExemptionNets []*net.IPNet
	Policies      []policy.Policy

	// PerNetRoutesOnly switches step 3 of Up into the mode where only
	// ExemptionNets are routed over the tunnel (one route per net) and
	// masquerade is installed on every link except the tunnel and lo,
	// instead of installing a tunnel-wide default route. Down mirrors
	// this by removing the per-link masquerades it finds, so the mode
	// is symmetric. Set via the `per_net_routes` config field or the
	// `exec --per-net` flag.
	PerNetRoutesOnly bool

	Logger *slog.Logger

	state lifecycleState

	// enteredPolicies tracks how many Policies (in declaration order)
	// had a successful Up call, so a failure partway through Up can
	// unwind exactly what was entered, in reverse order.
	enteredPolicies int
}

// tag returns the iptables comment this engine uses to correlate its
// own masquerade rules for teardown, per spec.md §3 invariant 5: the
// tunnel interface name.
func (e *Engine) tag() string { return e.Iface }

// Up brings the engine to the Active state: it (re-)creates table
// TableID over Iface, installs exemption routes/masquerade, installs
// either a default route or per-net routes depending on
// PerNetRoutesOnly, and brings every policy up in declaration order.
// On the first policy failure it unwinds everything already entered,
// including the engine's own state, and returns the error.
func (e *Engine) Up(ctx context.Context) error {
	if e.state != stateNew {
		return fmt.Errorf("routing: engine: Up called on a %s engine", e.state)
	}
	e.state = stateActive

	// Step 1: optional defensive flush. The table may carry residue
	// from a crashed prior run; errors here are ignored, matching
	// spec.md §4.E and scenario 4 ("double up").
	_ = e.GW.FlushRules(e.TableID, netlinkgw.FamilyV4)
	_ = e.GW.FlushRules(e.TableID, netlinkgw.FamilyV6)
	_ = e.GW.FlushRoutes(e.TableID, netlinkgw.FamilyV4)
	_ = e.GW.FlushRoutes(e.TableID, netlinkgw.FamilyV6)

	ifaceIdx, err := e.GW.LinkLookup(e.Iface)
	if err != nil {
		e.state = stateTerminated
		return fmt.Errorf("%w: %s: %v", ErrInterfaceNotFound, e.Iface, err)
	}

	// Step 2: exemption routes + masquerade on their original next hop.
	for _, n := range e.ExemptionNets {
		if err := e.addExemptionRoute(n); err != nil {
			e.unwind(ctx)
			return err
		}
	}

	// Step 3: populate table TableID.
	if e.PerNetRoutesOnly && len(e.ExemptionNets) > 0 {
		if err := e.populatePerNetRoutes(ifaceIdx); err != nil {
			e.unwind(ctx)
			return err
		}
	} else {
		if err := e.populateDefaultRoute(ifaceIdx); err != nil {
			e.unwind(ctx)
			return err
		}
	}

	// Step 4: masquerade on the tunnel itself.
	if err := e.FW.Add(e.Iface, e.tag(), e.IPv6Enabled); err != nil {
		e.unwind(ctx)
		return fmt.Errorf("routing: engine: masquerade tunnel: %w", err)
	}

	// Step 5: bring up every policy in order; unwind on first failure.
	for i, p := range e.Policies {
		if err := p.Up(ctx); err != nil {
			e.enteredPolicies = i // this one failed; only 0..i-1 entered
			e.unwind(ctx)
			return fmt.Errorf("routing: engine: policy %d up: %w", i, err)
		}
		e.enteredPolicies = i + 1
	}

	e.Logger.Info("routing engine up",
		"component", "routing",
		"interface", e.Iface,
		"table", e.TableID,
		"ipv6", e.IPv6Enabled,
		"policies", len(e.Policies),
	)
	return nil
}

// unwind tears down everything Up had already brought up, then marks
// the engine Terminated. Errors are logged, not returned — this is the
// "first error aborts Up and triggers reverse teardown" half of
// spec.md §7; the triggering error is what Up ultimately returns.
func (e *Engine) unwind(ctx context.Context) {
	e.Logger.Warn("routing engine up failed, unwinding", "component", "routing")
	_ = e.downLocked(ctx)
}

// Down releases everything the engine (and its policies) hold,
// best-effort: every step is attempted regardless of earlier failures,
// all errors are logged, and the first one encountered is returned
// after every step has been attempted. Down is idempotent — calling it
// on an already-Terminated engine (or twice in a row) performs the
// same safe, no-op-if-absent steps again and does not raise.
func (e *Engine) Down(ctx context.Context) error {
	return e.downLocked(ctx)
}

func (e *Engine) downLocked(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err == nil {
			return
		}
		e.Logger.Warn("routing engine teardown step failed", "component", "routing", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	entered := e.enteredPolicies
	if e.state == stateNew {
		entered = 0
	}

	for i := entered - 1; i >= 0; i-- {
		record(e.Policies[i].Down())
	}

	record(e.FW.Del(e.Iface, e.tag(), e.IPv6Enabled))

	if e.PerNetRoutesOnly && len(e.ExemptionNets) > 0 {
		record(e.removePerNetMasquerades())
	}

	for _, n := range e.ExemptionNets {
		record(e.removeExemptionMasquerade(n))
	}

	record(e.GW.FlushRoutes(e.TableID, netlinkgw.FamilyV4))
	record(e.GW.FlushRoutes(e.TableID, netlinkgw.FamilyV6))
	record(e.GW.FlushRules(e.TableID, netlinkgw.FamilyV4))
	record(e.GW.FlushRules(e.TableID, netlinkgw.FamilyV6))

	e.state = stateTerminated

	e.Logger.Info("routing engine down", "component", "routing", "interface", e.Iface, "table", e.TableID)
	return firstErr
}

func (e *Engine) populateDefaultRoute(ifaceIdx int) error {
	if err := e.GW.RouteAdd(netlinkgw.Route{
		Table:    e.TableID,
		Dst:      nil,
		OifIndex: ifaceIdx,
		Family:   netlinkgw.FamilyV4,
	}); err != nil {
		return fmt.Errorf("routing: engine: default route v4: %w", err)
	}

	if e.IPv6Enabled {
		if err := e.GW.RouteAdd(netlinkgw.Route{
			Table:    e.TableID,
			Dst:      nil,
			OifIndex: ifaceIdx,
			Family:   netlinkgw.FamilyV6,
			Priority: 100,
		}); err != nil {
			return fmt.Errorf("routing: engine: default route v6: %w", err)
		}
	} else {
		_, v6default, _ := net.ParseCIDR("::/0")
		if err := e.GW.RouteAdd(netlinkgw.Route{
			Table:  e.TableID,
			Dst:    v6default,
			Family: netlinkgw.FamilyV6,
			Type:   netlinkgw.RouteTypeProhibit,
		}); err != nil {
			return fmt.Errorf("routing: engine: ipv6 blackhole route: %w", err)
		}
	}
	return nil
}

func (e *Engine) populatePerNetRoutes(ifaceIdx int) error {
	for _, n := range e.ExemptionNets {
		if err := e.GW.RouteAdd(netlinkgw.Route{
			Table:    e.TableID,
			Dst:      n,
			OifIndex: ifaceIdx,
			Family:   familyOf(n),
		}); err != nil {
			return fmt.Errorf("routing: engine: per-net route %s: %w", n, err)
		}
	}

	links, err := e.GW.GetLinks()
	if err != nil {
		return fmt.Errorf("routing: engine: list links: %w", err)
	}
	for _, l := range links {
		if l.Name == "lo" || l.Name == e.Iface {
			continue
		}
		if err := e.FW.Add(l.Name, e.tag(), e.IPv6Enabled); err != nil {
			return fmt.Errorf("routing: engine: masquerade %s: %w", l.Name, err)
		}
	}
	return nil
}

// removePerNetMasquerades is the teardown half of populatePerNetRoutes:
// it re-lists links and removes the tagged masquerade from every one
// that populatePerNetRoutes would have added it to. Best-effort: it
// keeps going and returns the first error, matching downLocked's
// overall teardown style.
func (e *Engine) removePerNetMasquerades() error {
	links, err := e.GW.GetLinks()
	if err != nil {
		return fmt.Errorf("routing: engine: list links: %w", err)
	}
	var firstErr error
	for _, l := range links {
		if l.Name == "lo" || l.Name == e.Iface {
			continue
		}
		if err := e.FW.Del(l.Name, e.tag(), e.IPv6Enabled); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("routing: engine: remove masquerade %s: %w", l.Name, err)
		}
	}
	return firstErr
}

func (e *Engine) addExemptionRoute(n *net.IPNet) error {
	route, ok, err := e.routeForDstNet(n)
	if err != nil {
		return fmt.Errorf("routing: engine: exemption route lookup: %w", err)
	}
	if !ok {
		e.Logger.Warn("no existing route for exemption net, skipping", "component", "routing", "net", n)
		return nil
	}

	if err := e.GW.RouteAdd(netlinkgw.Route{
		Table:    e.TableID,
		Dst:      n,
		OifIndex: route.OifIndex,
		Gateway:  route.Gateway,
		Family:   route.Family,
	}); err != nil {
		return fmt.Errorf("routing: engine: exemption route %s: %w", n, err)
	}

	ifaceName, err := e.ifaceNameForIndex(route.OifIndex)
	if err != nil {
		return fmt.Errorf("routing: engine: exemption route %s: %w", n, err)
	}

	if err := e.FW.Add(ifaceName, e.tag(), e.IPv6Enabled); err != nil {
		return fmt.Errorf("routing: engine: exemption masquerade %s: %w", ifaceName, err)
	}
	return nil
}

func (e *Engine) removeExemptionMasquerade(n *net.IPNet) error {
	route, ok, err := e.routeForDstNet(n)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	ifaceName, err := e.ifaceNameForIndex(route.OifIndex)
	if err != nil {
		return nil // interface is gone too; nothing left to remove
	}
	return e.FW.Del(ifaceName, e.tag(), e.IPv6Enabled)
}

// routeForDstNet returns the first kernel route whose destination
// overlaps net in the same family — spec.md §4.E's
// get_route_for_dst_net.
func (e *Engine) routeForDstNet(n *net.IPNet) (netlinkgw.Route, bool, error) {
	routes, err := e.GW.GetRoutes()
	if err != nil {
		return netlinkgw.Route{}, false, err
	}
	fam := familyOf(n)
	for _, r := range routes {
		if r.Family != fam || r.Dst == nil {
			continue
		}
		if netsOverlap(r.Dst, n) {
			return r, true, nil
		}
	}
	return netlinkgw.Route{}, false, nil
}

func (e *Engine) ifaceNameForIndex(idx int) (string, error) {
	links, err := e.GW.GetLinks()
	if err != nil {
		return "", err
	}
	for _, l := range links {
		if l.Index == idx {
			return l.Name, nil
		}
	}
	return "", errors.New("routing: engine: no link with that index")
}

func familyOf(n *net.IPNet) netlinkgw.Family {
	if n.IP.To4() != nil {
		return netlinkgw.FamilyV4
	}
	return netlinkgw.FamilyV6
}

func netsOverlap(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}

func (s lifecycleState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateActive:
		return "active"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
