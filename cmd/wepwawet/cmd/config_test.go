package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfigYAML = `
table_name: 10111
interface: wg0
nets: []
vpn:
  type: wireguard
  interface:
    address: ["10.50.0.2/32"]
    private_key: "cGxhY2Vob2xkZXJwcml2YXRla2V5MzJieXRlcyEh"
  peer:
    public_key: "cGxhY2Vob2xkZXJwdWJsaWNrZXkzMmJ5dGVzISEh"
    allowed_ips: ["0.0.0.0/0"]
    endpoint: "vpn.example.com:51820"
policies: []
`

func TestConfigValidateCommand_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validConfigYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "validate", "--config-file", path})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(buf.String(), "valid") {
		t.Errorf("output = %q, want it to mention 'valid'", buf.String())
	}
}

func TestConfigValidateCommand_MissingFile(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "validate", "--config-file", filepath.Join(t.TempDir(), "nope.yaml")})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestConfigValidateCommand_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("table_name: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "validate", "--config-file", path})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error for an invalid config file")
	}
}
