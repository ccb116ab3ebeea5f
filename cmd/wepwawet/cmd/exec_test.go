package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseCIDRsSkipsInvalid(t *testing.T) {
	got := parseCIDRs([]string{"10.0.0.0/8", "not-a-cidr", "192.168.1.0/24"})
	if len(got) != 2 {
		t.Fatalf("parseCIDRs returned %d nets, want 2: %v", len(got), got)
	}
	if got[0].String() != "10.0.0.0/8" || got[1].String() != "192.168.1.0/24" {
		t.Errorf("parseCIDRs = %v", got)
	}
}

func TestParseCIDRsEmpty(t *testing.T) {
	if got := parseCIDRs(nil); len(got) != 0 {
		t.Errorf("parseCIDRs(nil) = %v, want empty", got)
	}
}

func TestExecCommand_RequiresCommandArg(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"exec"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected an error when exec is given no command")
	}
}

func TestExecCommand_Help(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"exec", "--help"})

	_ = rootCmd.Execute()

	output := buf.String()
	for _, want := range []string{"--table", "--interface", "--killswitch", "--exclude", "--net", "--dns", "--per-net"} {
		if !strings.Contains(output, want) {
			t.Errorf("exec --help output missing %q:\n%s", want, output)
		}
	}
}
