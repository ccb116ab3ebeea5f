package cmd

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/wepwawet/wepwawet/internal/allocator"
	"github.com/wepwawet/wepwawet/internal/config"
	"github.com/wepwawet/wepwawet/internal/firewall"
	"github.com/wepwawet/wepwawet/internal/netlinkgw"
	"github.com/wepwawet/wepwawet/internal/policy"
	"github.com/wepwawet/wepwawet/internal/routing"
	"github.com/wepwawet/wepwawet/internal/wireguard"
)

// execPolicyPriority is the rule priority the one-off ProcessPolicy gets;
// exec only ever runs a single policy, so there is no need for the
// sequential allocation config.Policies uses for a YAML policy list.
const execPolicyPriority = 100

var (
	execTable      int
	execInterface  string
	execIPv6       bool
	execKillswitch bool
	execExclude    []string
	execNets       []string
	execDNS        []string
	execPerNet     bool
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <cmd>...",
	Short: "Run a command inside a dedicated namespace routed through the tunnel",
	Long: "Create a fresh network namespace and veth pair, route it through a\n" +
		"routing-table policy, run the given command inside it, and tear\n" +
		"everything down when the command exits.",
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().IntVarP(&execTable, "table", "t", 0, "routing table id (default: first free id >= 10111); used only with --interface, otherwise the config file's table_name is used")
	execCmd.Flags().StringVarP(&execInterface, "interface", "i", "", "existing tunnel interface; if set, --config-file's vpn block is not used to bring up a tunnel")
	execCmd.Flags().BoolVar(&execIPv6, "ipv6", true, "enable IPv6 inside the namespace (--ipv6=false to disable); used only with --interface, otherwise the config file's ipv6 is used")
	execCmd.Flags().BoolVarP(&execKillswitch, "killswitch", "k", false, "prohibit traffic that the table cannot resolve")
	execCmd.Flags().StringArrayVar(&execExclude, "exclude", nil, "CIDR to exempt from the tunnel (repeatable, alias of --net)")
	execCmd.Flags().StringArrayVar(&execNets, "net", nil, "CIDR to exempt from the tunnel (repeatable)")
	execCmd.Flags().StringArrayVar(&execDNS, "dns", nil, "nameserver IP written into the namespace's resolv.conf (repeatable)")
	execCmd.Flags().BoolVar(&execPerNet, "per-net", false, "route only --exclude/--net CIDRs over the tunnel, masquerading every other link, instead of a tunnel-wide default route")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel)

	childArgs := args
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		childArgs = args[dash:]
	}
	if len(childArgs) == 0 {
		return fmt.Errorf("wepwawet exec: no command given")
	}

	gw := netlinkgw.New()
	alloc := allocator.New(gw)
	fw := firewall.New(logger)

	var (
		driver      *wireguard.Driver
		iface       string
		tableID     int
		ipv6Enabled bool
		exemptNets  []*net.IPNet
		perNetOnly  = execPerNet
	)

	if cmd.Flags().Changed("interface") {
		iface = execInterface
		ipv6Enabled = execIPv6
		exemptNets = parseCIDRs(append(execExclude, execNets...))

		tableID = execTable
		if tableID == 0 {
			id, err := alloc.FindFreeTable(allocator.MinTableID)
			if err != nil {
				return fmt.Errorf("wepwawet exec: %w", err)
			}
			tableID = id
		}
	} else {
		cfg, err := config.ParseConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("wepwawet exec: %w", err)
		}
		iface = cfg.Interface
		tableID = cfg.TableName
		ipv6Enabled = cfg.IPv6Enabled()
		exemptNets = append(cfg.ExemptionNets(), parseCIDRs(append(execExclude, execNets...))...)
		perNetOnly = perNetOnly || cfg.PerNetRoutes

		wgCfg, err := cfg.WireguardConfig()
		if err != nil {
			return fmt.Errorf("wepwawet exec: %w", err)
		}
		driver = &wireguard.Driver{Ctl: wireguard.NewNetlinkController(logger), Cfg: wgCfg, Logger: logger}
	}

	nsName, err := alloc.FindFreeNetnsName("wepwawet")
	if err != nil {
		return fmt.Errorf("wepwawet exec: %w", err)
	}
	outerName, err := alloc.FindFreeLinkName("wepwawetv")
	if err != nil {
		return fmt.Errorf("wepwawet exec: %w", err)
	}
	innerName, err := alloc.FindFreeLinkName("wepwawetp")
	if err != nil {
		return fmt.Errorf("wepwawet exec: %w", err)
	}
	subnet, err := alloc.FindUnallocatedIPv4Subnet(30)
	if err != nil {
		return fmt.Errorf("wepwawet exec: %w", err)
	}

	procPolicy := &policy.ProcessPolicy{
		NamespacePolicy: &policy.NamespacePolicy{
			GW:         gw,
			Logger:     logger,
			Table:      tableID,
			NSName:     nsName,
			OuterName:  outerName,
			InnerName:  innerName,
			Subnet:     subnet,
			DNS:        execDNS,
			Killswitch: execKillswitch,
			IPv6:       ipv6Enabled,
			Priority:   execPolicyPriority,
		},
		Cmd: childArgs,
	}

	engine := &routing.Engine{
		GW:               gw,
		FW:               fw,
		Iface:            iface,
		TableID:          tableID,
		IPv6Enabled:      ipv6Enabled,
		ExemptionNets:    exemptNets,
		Policies:         []policy.Policy{procPolicy},
		PerNetRoutesOnly: perNetOnly,
		Logger:           logger,
	}

	ctx := context.Background()

	if driver != nil {
		if err := driver.Up(); err != nil {
			return fmt.Errorf("wepwawet exec: tunnel up: %w", err)
		}
	}
	if err := engine.Up(ctx); err != nil {
		if driver != nil {
			_ = driver.Down()
		}
		return fmt.Errorf("wepwawet exec: engine up: %w", err)
	}

	actionErr := procPolicy.Action(ctx)

	// Teardown runs before os.Exit below — os.Exit skips deferred calls,
	// so cleanup must happen here rather than via defer.
	if err := engine.Down(ctx); err != nil {
		logger.Error("engine down failed", "error", err)
	}
	if driver != nil {
		if err := driver.Down(); err != nil {
			logger.Error("tunnel down failed", "error", err)
		}
	}

	if exitErr, ok := actionErr.(*policy.ChildExitError); ok {
		os.Exit(exitErr.ExitCode())
	}
	return actionErr
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
