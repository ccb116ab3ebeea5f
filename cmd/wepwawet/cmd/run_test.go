package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestRunCommand_MissingConfigFails(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"run", "--config-file", filepath.Join(t.TempDir(), "nope.yaml")})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error when the config file does not exist")
	}
}

func TestRunCommand_Help(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"run", "--help"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}
