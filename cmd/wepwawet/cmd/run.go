package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wepwawet/wepwawet/internal/config"
	"github.com/wepwawet/wepwawet/internal/firewall"
	"github.com/wepwawet/wepwawet/internal/netlinkgw"
	"github.com/wepwawet/wepwawet/internal/routing"
	"github.com/wepwawet/wepwawet/internal/wireguard"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bring the tunnel and routing engine up and hold them there",
	Long: "Parse the config file, bring the WireGuard tunnel and routing engine up,\n" +
		"and block until signalled, tearing both down in reverse order on exit.",
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger := setupLogger(logLevel)

	cfg, err := config.ParseConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("wepwawet run: %w", err)
	}

	gw := netlinkgw.New()
	wgCtl := wireguard.NewNetlinkController(logger)

	wgCfg, err := cfg.WireguardConfig()
	if err != nil {
		return fmt.Errorf("wepwawet run: %w", err)
	}
	driver := &wireguard.Driver{Ctl: wgCtl, Cfg: wgCfg, Logger: logger}

	policies, err := cfg.Policies(gw, logger)
	if err != nil {
		return fmt.Errorf("wepwawet run: %w", err)
	}

	engine := &routing.Engine{
		GW:               gw,
		FW:               firewall.New(logger),
		Iface:            cfg.Interface,
		TableID:          cfg.TableName,
		IPv6Enabled:      cfg.IPv6Enabled(),
		ExemptionNets:    cfg.ExemptionNets(),
		Policies:         policies,
		PerNetRoutesOnly: cfg.PerNetRoutes,
		Logger:           logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("starting wepwawet", "version", buildVersion, "interface", cfg.Interface)

	if err := driver.Up(); err != nil {
		return fmt.Errorf("wepwawet run: tunnel up: %w", err)
	}
	if err := engine.Up(ctx); err != nil {
		_ = driver.Down()
		return fmt.Errorf("wepwawet run: engine up: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down", "reason", ctx.Err())

	if err := engine.Down(context.Background()); err != nil {
		logger.Error("engine down failed", "error", err)
	}
	if err := driver.Down(); err != nil {
		logger.Error("tunnel down failed", "error", err)
	}

	logger.Info("wepwawet stopped")
	return nil
}
