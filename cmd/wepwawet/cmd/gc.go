package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wepwawet/wepwawet/internal/firewall"
)

// gcCmd is a caller-side diagnostic, not core-engine behavior: an
// engine whose process crashed mid-Up leaves tagged NAT masquerade
// rules behind with no in-memory Engine left to call Down on them.
var gcCmd = &cobra.Command{
	Use:   "gc <tag-prefix>",
	Short: "Remove orphaned masquerade rules left by a crashed engine",
	Long: "List every NAT POSTROUTING masquerade rule whose comment tag starts with\n" +
		"<tag-prefix> and remove it. Use the tunnel interface name used by the\n" +
		"crashed run/exec invocation as the prefix.",
	Args: cobra.ExactArgs(1),
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel)
	tagPrefix := args[0]

	fw := firewall.New(logger)

	entries, err := fw.List(tagPrefix)
	if err != nil {
		return fmt.Errorf("wepwawet gc: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no masquerade rules tagged %q\n", tagPrefix)
		return nil
	}

	var firstErr error
	for _, e := range entries {
		if err := fw.Del(e.Iface, e.Tag, e.IPv6); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to remove %s/%s (ipv6=%v): %v\n", e.Iface, e.Tag, e.IPv6, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s/%s (ipv6=%v)\n", e.Iface, e.Tag, e.IPv6)
	}
	return firstErr
}
