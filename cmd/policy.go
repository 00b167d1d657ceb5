package cmd

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/encodeous/ribsim/core"
	"github.com/encodeous/ribsim/policy"
	"github.com/encodeous/ribsim/state"
	"github.com/spf13/cobra"
)

var (
	evalNode        string
	evalProtocol    string
	evalAsPath      string
	evalCommunities []string
	evalMetric      uint32
	evalTag         uint32
	evalLocalPref   uint32
	evalNextHop     string
	evalOut         bool
)

var policyCmd = &cobra.Command{
	Use:   "policy <name> <prefix>",
	Short: "Evaluates a routing policy of a node against a single route",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		net, err := state.LoadNetwork(networkPath)
		if err != nil {
			return err
		}
		e, err := core.NewEngine(net, nil)
		if err != nil {
			return err
		}
		set := e.Policies(evalNode)
		if set == nil {
			return fmt.Errorf("unknown node %q", evalNode)
		}
		if !set.Has(args[0]) {
			return fmt.Errorf("node %s has no policy %q", evalNode, args[0])
		}
		r, err := evalRoute(args[1])
		if err != nil {
			return err
		}
		env := &policy.Env{Node: evalNode, Vrf: state.DefaultVrf, Direction: state.DirectionIn}
		if evalOut {
			env.Direction = state.DirectionOut
		}
		res := set.Evaluate(args[0], r, env)
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.Verdict)
		if res.Permitted() {
			fmt.Fprintln(out, res.Route)
		}
		return nil
	},
	GroupID: "cfg",
}

func evalRoute(prefix string) (state.Route, error) {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return state.Route{}, err
	}
	proto, err := state.ParseProtocol(evalProtocol)
	if err != nil {
		return state.Route{}, err
	}
	path, err := state.ParseAsPath(evalAsPath)
	if err != nil {
		return state.Route{}, err
	}
	var cs state.Communities
	for _, s := range evalCommunities {
		c, err := state.ParseCommunity(strings.TrimSpace(s))
		if err != nil {
			return state.Route{}, err
		}
		cs = append(cs, c)
	}
	b := state.NewRoute(p.Masked(), proto).
		Metric(evalMetric).
		Tag(evalTag).
		AsPath(path).
		Communities(cs).
		LocalPref(evalLocalPref)
	if evalNextHop != "" {
		nh, err := netip.ParseAddr(evalNextHop)
		if err != nil {
			return state.Route{}, err
		}
		b.NextHop(nh)
	}
	return b.Build(), nil
}

func init() {
	rootCmd.AddCommand(policyCmd)

	policyCmd.Flags().StringVarP(&evalNode, "node", "n", "", "Node that defines the policy")
	policyCmd.Flags().StringVarP(&evalProtocol, "protocol", "p", "bgp", "Protocol of the route")
	policyCmd.Flags().StringVar(&evalAsPath, "as-path", "", `AS path, e.g. "65002 {65003,65004}"`)
	policyCmd.Flags().StringSliceVar(&evalCommunities, "community", nil, "Communities of the route")
	policyCmd.Flags().Uint32Var(&evalMetric, "metric", 0, "Metric (MED for BGP)")
	policyCmd.Flags().Uint32Var(&evalTag, "tag", 0, "Route tag")
	policyCmd.Flags().Uint32Var(&evalLocalPref, "local-pref", state.DefaultLocalPref, "Local preference")
	policyCmd.Flags().StringVar(&evalNextHop, "next-hop", "", "Next hop address")
	policyCmd.Flags().BoolVar(&evalOut, "out", false, "Evaluate in the export direction")
	_ = policyCmd.MarkFlagRequired("node")
}
