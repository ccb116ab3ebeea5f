package policy

import (
	"context"
	"log/slog"

	"github.com/wepwawet/wepwawet/internal/netlinkgw"
)

// UserRangePolicy routes packets whose source uid is in [UIDLo, UIDHi]
// via Table. When Killswitch is set, traffic matching the uid range
// that Table cannot resolve is prohibited rather than falling through
// to the main table.
type UserRangePolicy struct {
	GW         netlinkgw.Gateway
	Table      int
	UIDLo      uint32
	UIDHi      uint32
	Priority   int // base priority for the main rule; killswitch uses Priority+1
	Killswitch bool
	Logger     *slog.Logger
}

var _ Policy = (*UserRangePolicy)(nil)

// Up installs the uid-range rule (and, if configured, the killswitch
// rule) for both IPv4 and IPv6, per spec.md §4.D.
func (p *UserRangePolicy) Up(_ context.Context) error {
	rng := &netlinkgw.UIDRange{Start: p.UIDLo, End: p.UIDHi}

	for _, fam := range []netlinkgw.Family{netlinkgw.FamilyV4, netlinkgw.FamilyV6} {
		if err := p.GW.RuleAdd(netlinkgw.Rule{
			Table:    p.Table,
			Priority: p.Priority,
			Family:   fam,
			Action:   netlinkgw.ActionToTable,
			UIDRange: rng,
		}); err != nil {
			return err
		}
	}

	if p.Killswitch {
		for _, fam := range []netlinkgw.Family{netlinkgw.FamilyV4, netlinkgw.FamilyV6} {
			if err := p.GW.RuleAdd(netlinkgw.Rule{
				Table:    p.Table,
				Priority: p.Priority + 1,
				Family:   fam,
				Action:   netlinkgw.ActionProhibit,
				UIDRange: rng,
			}); err != nil {
				return err
			}
		}
	}

	p.Logger.Debug("uid range policy up",
		"component", "policy",
		"uid_lo", p.UIDLo,
		"uid_hi", p.UIDHi,
		"table", p.Table,
		"killswitch", p.Killswitch,
	)
	return nil
}

// Down is a no-op: UserRangePolicy's only kernel objects are rules on
// Table, which RoutingEngine.Down flushes directly (spec.md §4.D:
// "down: flush handled by the engine via flush_rules").
func (p *UserRangePolicy) Down() error {
	return nil
}
