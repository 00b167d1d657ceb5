package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var networkPath = "network.yaml"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ribsim",
	Short: "Routing table simulator",
	Long: `ribsim computes the converged routing and forwarding tables of a network
from its device configurations, without running any router.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "sim",
		Title: "Simulation",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "cfg",
		Title: "Configuration",
	})
	rootCmd.PersistentFlags().StringVarP(&networkPath, "config", "c", networkPath, "network configuration")
}
