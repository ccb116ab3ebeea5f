package wireguard

import (
	"net"
	"testing"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

func validConfig(t *testing.T) Config {
	return Config{
		InterfaceName: "wg0",
		ListenPort:    51820,
		Addresses:     []*net.IPNet{mustCIDR(t, "10.7.0.2/24")},
		PrivateKey:    make([]byte, 32),
		Peer: PeerConfig{
			PublicKey:  make([]byte, 32),
			Endpoint:   "vpn.example.com:51820",
			AllowedIPs: []string{"0.0.0.0/0"},
		},
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()

	if c.InterfaceName != DefaultInterfaceName {
		t.Errorf("InterfaceName = %q, want %q", c.InterfaceName, DefaultInterfaceName)
	}
	if c.ListenPort != DefaultListenPort {
		t.Errorf("ListenPort = %d, want %d", c.ListenPort, DefaultListenPort)
	}
}

func TestConfigApplyDefaultsPreservesSetValues(t *testing.T) {
	c := Config{InterfaceName: "tun9", ListenPort: 12345}
	c.ApplyDefaults()

	if c.InterfaceName != "tun9" || c.ListenPort != 12345 {
		t.Errorf("ApplyDefaults overwrote explicit values: %+v", c)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestConfigValidateRejectsBadListenPort(t *testing.T) {
	c := validConfig(t)
	c.ListenPort = 70000
	if err := c.Validate(); err == nil {
		t.Error("expected error for out-of-range listen port")
	}
}

func TestConfigValidateRejectsNegativeMTU(t *testing.T) {
	c := validConfig(t)
	c.MTU = -1
	if err := c.Validate(); err == nil {
		t.Error("expected error for negative MTU")
	}
}

func TestConfigValidateRequiresAddress(t *testing.T) {
	c := validConfig(t)
	c.Addresses = nil
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing address")
	}
}

func TestConfigValidateRequiresPeerPublicKey(t *testing.T) {
	c := validConfig(t)
	c.Peer.PublicKey = nil
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing peer public key")
	}
}
