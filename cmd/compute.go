package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/encodeous/ribsim/core"
	"github.com/encodeous/ribsim/state"
	"github.com/spf13/cobra"
)

var (
	computeOpts core.RenderOptions
	workers     int
	rounds      int
	logPath     string
	debugAddr   string
	lookupAddr  string
)

var computeCmd = &cobra.Command{
	Use:     "compute",
	Aliases: []string{"run"},
	Short:   "Computes the converged routing tables of the network",
	RunE: func(cmd *cobra.Command, args []string) error {
		net, err := state.LoadNetwork(networkPath)
		if err != nil {
			return err
		}
		if workers > 0 {
			net.Settings.Workers = workers
		}
		if rounds > 0 {
			net.Settings.RoundBudget = rounds
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}
		log, closer, err := core.NewLogger("ribsim", level, logPath)
		if err != nil {
			return err
		}
		defer closer()

		if debugAddr != "" {
			go func() {
				log.Warn("debug server stopped", "err", http.ListenAndServe(debugAddr, nil))
			}()
		}

		e, err := core.NewEngine(net, log)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := e.Run(ctx)
		if err != nil {
			return err
		}
		log.Info("converged", "rounds", res.Rounds, "sessions", len(res.Sessions), "warnings", len(res.Warnings))

		if lookupAddr != "" {
			return lookup(cmd, res, lookupAddr)
		}
		return res.DataPlane.Render(cmd.OutOrStdout(), computeOpts)
	},
	GroupID: "sim",
}

func lookup(cmd *cobra.Command, res *core.Result, s string) error {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return err
	}
	if computeOpts.Node == "" {
		return fmt.Errorf("--lookup needs --node")
	}
	vrf := computeOpts.Vrf
	if vrf == "" {
		vrf = state.DefaultVrf
	}
	entry, ok := res.DataPlane.Lookup(computeOpts.Node, vrf, addr)
	if !ok {
		return fmt.Errorf("%s/%s has no route to %s", computeOpts.Node, vrf, addr)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", entry.Prefix, entry.Protocol)
	for _, nh := range entry.NextHops {
		fmt.Fprintf(out, "  %s\n", nh)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(computeCmd)

	computeCmd.Flags().BoolP("verbose", "v", false, "Log every round and adjacency change")
	computeCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Parallel node evaluations per round (default GOMAXPROCS)")
	computeCmd.Flags().IntVarP(&rounds, "rounds", "r", 0, "Round budget per fixpoint (default derived from the network)")
	computeCmd.Flags().StringVar(&logPath, "log-path", "", "Also write logs to this file")
	computeCmd.Flags().StringVar(&debugAddr, "debug-addr", "", "Serve /debug/metrics and /debug/vars on this address")
	computeCmd.Flags().StringVarP(&computeOpts.Format, "format", "f", "text", "Output format: text or yaml")
	computeCmd.Flags().StringVarP(&computeOpts.Node, "node", "n", "", "Only print this node")
	computeCmd.Flags().StringVar(&computeOpts.Vrf, "vrf", "", "Only print this VRF")
	computeCmd.Flags().BoolVar(&computeOpts.Fib, "fib", false, "Print forwarding entries")
	computeCmd.Flags().StringVarP(&lookupAddr, "lookup", "l", "", "Print the forwarding entry of --node for an address")
}
