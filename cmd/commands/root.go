package commands

// Root command for Cobra CLI

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mint-rewards-snapshot",
	Short: "Mint Rewards Snapshot Tool - adaptive token holder snapshots toward a target market cap",
	Long: `Mint Rewards Snapshot Tool watches a token's progress toward a target market
cap and records point-in-time snapshots of all holders and their balances,
tightening the capture cadence as the token approaches the target.`,
	Version: "1.0.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
