package wireguard

import (
	"errors"
	"testing"
)

func newTestDriver(t *testing.T, ctl *mockController) *Driver {
	cfg := validConfig(t)
	cfg.MTU = 1420
	return &Driver{Ctl: ctl, Cfg: cfg, Logger: discardLogger()}
}

func TestDriverUpOrdersCalls(t *testing.T) {
	ctl := &mockController{}
	d := newTestDriver(t, ctl)

	if err := d.Up(); err != nil {
		t.Fatalf("Up: %v", err)
	}

	wantOrder := []string{"CreateInterface", "ConfigureAddress", "SetMTU", "SetInterfaceUp", "AddPeer"}
	if len(ctl.calls) != len(wantOrder) {
		t.Fatalf("got %d calls, want %d: %+v", len(ctl.calls), len(wantOrder), ctl.calls)
	}
	for i, want := range wantOrder {
		if ctl.calls[i].Method != want {
			t.Errorf("call %d = %s, want %s", i, ctl.calls[i].Method, want)
		}
	}
}

func TestDriverUpPassesZeroMTUToController(t *testing.T) {
	ctl := &mockController{}
	d := newTestDriver(t, ctl)
	d.Cfg.MTU = 0

	if err := d.Up(); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if calls := ctl.callsFor("SetMTU"); len(calls) != 1 {
		t.Fatalf("expected SetMTU still called once with mtu=0, got %d", len(calls))
	}
}

func TestDriverUpPropagatesCreateInterfaceError(t *testing.T) {
	ctl := &mockController{createInterfaceErr: errors.New("boom")}
	d := newTestDriver(t, ctl)

	if err := d.Up(); err == nil {
		t.Fatal("expected error")
	}
	if calls := ctl.callsFor("AddPeer"); len(calls) != 0 {
		t.Error("AddPeer should not be called when CreateInterface fails")
	}
}

func TestDriverDownIsIdempotent(t *testing.T) {
	ctl := &mockController{}
	d := newTestDriver(t, ctl)

	if err := d.Down(); err != nil {
		t.Fatalf("first Down: %v", err)
	}
	if err := d.Down(); err != nil {
		t.Fatalf("second Down: %v", err)
	}
	if calls := ctl.callsFor("DeleteInterface"); len(calls) != 2 {
		t.Fatalf("expected 2 DeleteInterface calls, got %d", len(calls))
	}
}

func TestDriverDownRemovesPeerBeforeInterface(t *testing.T) {
	ctl := &mockController{}
	d := newTestDriver(t, ctl)

	if err := d.Down(); err != nil {
		t.Fatalf("Down: %v", err)
	}

	wantOrder := []string{"RemovePeer", "DeleteInterface"}
	if len(ctl.calls) != len(wantOrder) {
		t.Fatalf("got %d calls, want %d: %+v", len(ctl.calls), len(wantOrder), ctl.calls)
	}
	for i, want := range wantOrder {
		if ctl.calls[i].Method != want {
			t.Errorf("call %d = %s, want %s", i, ctl.calls[i].Method, want)
		}
	}
}

func TestDriverDownToleratesRemovePeerFailure(t *testing.T) {
	ctl := &mockController{removePeerErr: errors.New("boom")}
	d := newTestDriver(t, ctl)

	if err := d.Down(); err != nil {
		t.Fatalf("Down should still succeed when RemovePeer fails: %v", err)
	}
	if calls := ctl.callsFor("DeleteInterface"); len(calls) != 1 {
		t.Error("DeleteInterface should still run after a RemovePeer failure")
	}
}

func TestDriverPeerConfigCarriesAllowedIPs(t *testing.T) {
	ctl := &mockController{}
	d := newTestDriver(t, ctl)
	d.Cfg.Peer.AllowedIPs = []string{"10.0.0.0/8", "192.168.0.0/16"}

	if err := d.Up(); err != nil {
		t.Fatalf("Up: %v", err)
	}
	calls := ctl.callsFor("AddPeer")
	if len(calls) != 1 {
		t.Fatalf("expected 1 AddPeer call, got %d", len(calls))
	}
	cfg, ok := calls[0].Args[1].(PeerConfig)
	if !ok {
		t.Fatalf("AddPeer arg type = %T", calls[0].Args[1])
	}
	if len(cfg.AllowedIPs) != 2 {
		t.Errorf("AllowedIPs = %v", cfg.AllowedIPs)
	}
}
