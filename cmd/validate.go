package cmd

import (
	"fmt"

	"github.com/encodeous/ribsim/core"
	"github.com/encodeous/ribsim/state"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Checks the network configuration and its policies without computing routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		net, err := state.LoadNetwork(networkPath)
		if err != nil {
			return err
		}
		e, err := core.NewEngine(net, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, w := range e.Warnings() {
			fmt.Fprintln(out, w)
		}
		fmt.Fprintf(out, "%s: %d nodes, %d warnings\n", networkPath, len(net.Nodes), len(e.Warnings()))
		return nil
	},
	GroupID: "cfg",
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
