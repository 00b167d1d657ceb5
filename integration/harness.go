//go:build integration

package integration

import (
	"context"
	"log/slog"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"

	"github.com/encodeous/ribsim/core"
	"github.com/encodeous/ribsim/state"
	"github.com/encodeous/tint"
	"github.com/stretchr/testify/require"
)

// testWriter forwards log lines to the test log so they only show on failure.
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Harness runs one scenario network to convergence.
type Harness struct {
	t      *testing.T
	Net    *state.Network
	Engine *core.Engine
	Result *core.Result
}

func Load(t *testing.T, name string) *state.Network {
	t.Helper()
	net, err := state.LoadNetwork(filepath.Join("testdata", name+".yaml"))
	require.NoError(t, err)
	return net
}

func (h *Harness) logger() *slog.Logger {
	return slog.New(tint.NewHandler(testWriter{h.t}, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05.000",
	}))
}

func Run(t *testing.T, net *state.Network) *Harness {
	t.Helper()
	h := &Harness{t: t, Net: net}
	e, err := core.NewEngine(net, h.logger())
	require.NoError(t, err)
	h.Engine = e
	h.Result, err = e.Run(context.Background())
	require.NoError(t, err)
	return h
}

// Routes returns the selected main RIB routes of node for prefix.
func (h *Harness) Routes(node, prefix string) []state.Route {
	h.t.Helper()
	tbl := h.Result.DataPlane.Table(node, state.DefaultVrf)
	require.NotNil(h.t, tbl, "no table for %s", node)
	p := netip.MustParsePrefix(prefix)
	var out []state.Route
	for _, r := range tbl.Routes {
		if r.Prefix == p {
			out = append(out, r)
		}
	}
	return out
}

// Route requires exactly one selected route of node for prefix.
func (h *Harness) Route(node, prefix string) state.Route {
	h.t.Helper()
	routes := h.Routes(node, prefix)
	require.Len(h.t, routes, 1, "%s %s", node, prefix)
	return routes[0]
}

// Absent requires that no node/prefix pair has a selected route.
func (h *Harness) Absent(pairs ...state.Pair[string, string]) {
	h.t.Helper()
	for _, p := range pairs {
		require.Empty(h.t, h.Routes(p.V1, p.V2), "%s %s", p.V1, p.V2)
	}
}

func at(node, prefix string) state.Pair[string, string] {
	return state.Pair[string, string]{V1: node, V2: prefix}
}

func (h *Harness) Render(opts core.RenderOptions) string {
	h.t.Helper()
	var sb strings.Builder
	require.NoError(h.t, h.Result.DataPlane.Render(&sb, opts))
	return sb.String()
}
