package commands

// Command to run the snapshot monitor in the foreground
// Loads configuration, wires the clients and the persistence sink,
// and runs the monitor until the target is reached or the process is stopped
// Implements graceful shutdown for proper termination

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/clients_api/markets"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/clients_api/solanarpc"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/config"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/aggregate"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/schedule"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/snapshot"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/infra/fs"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/infra/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the snapshot monitor until the target market cap is reached",
	Long:  `Run the snapshot monitor in the foreground. It polls the token's progress, captures holder snapshots on the adaptive cadence, and stops after the final snapshot once the target is reached.`,
	RunE:  runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.LogError("Failed to load config", zap.Error(err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.LogSuccess("Initialized",
		zap.Strings("rpc_endpoints", cfg.RPC.Endpoints),
		zap.String("token_mint", cfg.Token.Mint),
		zap.String("mode", cfg.Target.Mode),
		zap.Float64("target_mcap_sol", cfg.Target.McapSOL),
		zap.String("snapshot_dir", cfg.Snapshot.Dir))

	store, err := fs.NewStore(cfg.Snapshot.Dir)
	if err != nil {
		log.LogError("Failed to prepare snapshot directory", zap.Error(err))
		return err
	}

	monitor := snapshot.NewMonitor(
		cfg.Token.Mint,
		schedule.TableForMode(cfg.Target.Mode),
		markets.NewClient(cfg.Market, cfg.Token.Mint, cfg.Target.Mode, cfg.Target.McapSOL),
		solanarpc.NewClient(cfg.RPC),
		store,
		aggregate.Options{
			MinTokenAmount:   cfg.Snapshot.MinTokenAmount,
			BurnedAdjustment: cfg.Snapshot.BurnedAdjustment,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- monitor.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.LogInfo("Shutdown signal received, gracefully stopping...")
	}

	select {
	case <-done:
		log.LogSuccess("Snapshot monitor stopped gracefully")
	case <-time.After(10 * time.Second):
		log.LogWarn("Timeout waiting for monitor to stop")
	}

	return nil
}
