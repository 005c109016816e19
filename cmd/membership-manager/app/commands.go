// Package app provides the command-line entry points for the membership
// manager.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citusdata/membership-manager/internal/logger"
	"github.com/citusdata/membership-manager/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "membership-manager",
	DisableAutoGenTag: true,
	Short:             "Citus cluster membership manager",
	Long: `Citus cluster membership manager keeps the coordinator's worker list in
sync with the worker containers of its Docker Compose project: workers that
report healthy are registered, destroyed workers are deregistered.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize(viper.GetBool("debug"))
	},
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("failed to display help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the membership manager.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			logger.Errorf("failed to read format flag: %v", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				logger.Errorf("failed to format version info as JSON: %v", err)
				return
			}
			fmt.Println(string(output))
			return
		}
		fmt.Printf("membership-manager %s (commit %s, built %s, %s, %s)\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
