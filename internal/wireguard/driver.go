package wireguard

import (
	"fmt"
	"log/slog"
)

// Driver is the TunnelDriver of spec.md §4.F: it creates a
// wireguard-kind link, assigns the configured addresses, brings it
// up, and installs the one configured peer. It is composed around a
// RoutingEngine in the caller's scope so its teardown runs after the
// engine's — the engine depends on the interface Driver creates, so
// Driver must outlive it.
type Driver struct {
	Ctl    WGController
	Cfg    Config
	Logger *slog.Logger

	done struct {
		ifaceCreated bool
	}
}

// Up creates the interface, address, MTU, and peer in that order — an
// address or MTU operation needs the interface to already exist, and
// the peer's allowed-ips are meaningless without it.
func (d *Driver) Up() error {
	if err := d.Ctl.CreateInterface(d.Cfg.InterfaceName, d.Cfg.PrivateKey, d.Cfg.ListenPort); err != nil {
		return fmt.Errorf("wireguard: driver: up: %w", err)
	}
	d.done.ifaceCreated = true

	for _, addr := range d.Cfg.Addresses {
		if err := d.Ctl.ConfigureAddress(d.Cfg.InterfaceName, addr.String()); err != nil {
			return fmt.Errorf("wireguard: driver: up: %w", err)
		}
	}

	if err := d.Ctl.SetMTU(d.Cfg.InterfaceName, d.Cfg.MTU); err != nil {
		return fmt.Errorf("wireguard: driver: up: %w", err)
	}

	if err := d.Ctl.SetInterfaceUp(d.Cfg.InterfaceName); err != nil {
		return fmt.Errorf("wireguard: driver: up: %w", err)
	}

	if err := d.Ctl.AddPeer(d.Cfg.InterfaceName, d.Cfg.Peer); err != nil {
		return fmt.Errorf("wireguard: driver: up: %w", err)
	}

	d.Logger.Info("tunnel driver up",
		"component", "wireguard",
		"interface", d.Cfg.InterfaceName,
		"listen_port", d.Cfg.ListenPort,
	)
	return nil
}

// Down removes the configured peer, then deletes the interface.
// DeleteInterface is idempotent, so Down is safe to call after a
// partial Up or a second time. RemovePeer failures are logged, not
// fatal: DeleteInterface tears the peer down along with the interface
// regardless.
func (d *Driver) Down() error {
	if err := d.Ctl.RemovePeer(d.Cfg.InterfaceName, d.Cfg.Peer.PublicKey); err != nil {
		d.Logger.Warn("remove peer failed", "component", "wireguard", "interface", d.Cfg.InterfaceName, "error", err)
	}

	if err := d.Ctl.DeleteInterface(d.Cfg.InterfaceName); err != nil {
		return fmt.Errorf("wireguard: driver: down: %w", err)
	}
	d.done.ifaceCreated = false

	d.Logger.Info("tunnel driver down", "component", "wireguard", "interface", d.Cfg.InterfaceName)
	return nil
}
