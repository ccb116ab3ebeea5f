package allocator

import (
	"net"
	"testing"

	"github.com/wepwawet/wepwawet/internal/netlinkgw"
	"github.com/wepwawet/wepwawet/internal/netlinkgw/netlinkgwfake"
)

func TestFindFreeTableSkipsInUse(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	_ = gw.RuleAdd(netlinkgw.Rule{Table: MinTableID, Priority: 100, Family: netlinkgw.FamilyV4})
	_ = gw.RuleAdd(netlinkgw.Rule{Table: MinTableID + 1, Priority: 100, Family: netlinkgw.FamilyV4})

	a := New(gw)
	id, err := a.FindFreeTable(MinTableID)
	if err != nil {
		t.Fatalf("FindFreeTable: %v", err)
	}
	if id != MinTableID+2 {
		t.Errorf("FindFreeTable = %d, want %d", id, MinTableID+2)
	}
}

func TestIsTableInUse(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	_ = gw.RuleAdd(netlinkgw.Rule{Table: MinTableID, Priority: 100, Family: netlinkgw.FamilyV4})

	a := New(gw)
	inUse, err := a.IsTableInUse(MinTableID)
	if err != nil {
		t.Fatalf("IsTableInUse: %v", err)
	}
	if !inUse {
		t.Error("expected table to be reported in use")
	}

	inUse, err = a.IsTableInUse(MinTableID + 1)
	if err != nil {
		t.Fatalf("IsTableInUse: %v", err)
	}
	if inUse {
		t.Error("expected table to be reported free")
	}
}

func TestFindFreeNetnsName(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	_ = gw.NetnsAdd("wepwawet0")
	_ = gw.NetnsAdd("wepwawet1")

	a := New(gw)
	name, err := a.FindFreeNetnsName("wepwawet")
	if err != nil {
		t.Fatalf("FindFreeNetnsName: %v", err)
	}
	if name != "wepwawet2" {
		t.Errorf("FindFreeNetnsName = %q, want %q", name, "wepwawet2")
	}
}

func TestFindFreeLinkName(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	_ = gw.LinkAddVeth("wepwawet0", "wepwawet")

	a := New(gw)
	name, err := a.FindFreeLinkName("wepwawet")
	if err != nil {
		t.Fatalf("FindFreeLinkName: %v", err)
	}
	if name != "wepwawet1" {
		t.Errorf("FindFreeLinkName = %q, want %q", name, "wepwawet1")
	}
}

func TestFindUnallocatedIPv4SubnetAvoidsExistingRoute(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	_, used, _ := net.ParseCIDR("10.0.0.0/30")
	_ = gw.RouteAdd(netlinkgw.Route{Table: 0, Dst: used, Family: netlinkgw.FamilyV4})

	a := New(gw)
	subnet, err := a.FindUnallocatedIPv4Subnet(30)
	if err != nil {
		t.Fatalf("FindUnallocatedIPv4Subnet: %v", err)
	}
	if subnet.String() == used.String() {
		t.Errorf("returned subnet %s overlaps existing route", subnet)
	}
	if subnet.String() != "10.0.0.4/30" {
		t.Errorf("subnet = %s, want 10.0.0.4/30 (first free after 10.0.0.0/30)", subnet)
	}
}

func TestFindUnallocatedIPv4SubnetAvoidsExistingAddr(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	_, used, _ := net.ParseCIDR("10.0.0.0/30")
	_ = gw.AddrAdd("lo", used, netlinkgw.FamilyV4)

	a := New(gw)
	subnet, err := a.FindUnallocatedIPv4Subnet(30)
	if err != nil {
		t.Fatalf("FindUnallocatedIPv4Subnet: %v", err)
	}
	if netsOverlapForTest(subnet, used) {
		t.Errorf("returned subnet %s overlaps existing address", subnet)
	}
}

func TestFindUnallocatedIPv4SubnetDefaultsToFirstSupernet(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	a := New(gw)
	subnet, err := a.FindUnallocatedIPv4Subnet(30)
	if err != nil {
		t.Fatalf("FindUnallocatedIPv4Subnet: %v", err)
	}
	if subnet.String() != "10.0.0.0/30" {
		t.Errorf("subnet = %s, want 10.0.0.0/30 on an otherwise-empty host", subnet)
	}
}

func netsOverlapForTest(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}
