//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/encodeous/ribsim/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var scenarios = []string{"route_reflection", "redistribution", "aggregate", "dual_homed"}

func TestWorkersDoNotChangeResult(t *testing.T) {
	defer goleak.VerifyNone(t)
	for _, name := range scenarios {
		t.Run(name, func(t *testing.T) {
			var outputs []string
			for _, workers := range []int{1, 3, 16} {
				net := Load(t, name)
				net.Settings.Workers = workers
				h := Run(t, net)
				outputs = append(outputs, h.Render(core.RenderOptions{Format: "yaml", Fib: true}))
			}
			assert.Equal(t, outputs[0], outputs[1])
			assert.Equal(t, outputs[0], outputs[2])
		})
	}
}

func TestResumeConvergedScenario(t *testing.T) {
	defer goleak.VerifyNone(t)
	for _, name := range scenarios {
		t.Run(name, func(t *testing.T) {
			h := Run(t, Load(t, name))
			again, err := h.Engine.Resume(context.Background(), h.Result.Snapshot)
			require.NoError(t, err)
			assert.Len(t, again.Trace, 1)
			assert.Equal(t, h.Result.Sessions, again.Sessions)
		})
	}
}

func TestNoWarnings(t *testing.T) {
	for _, name := range scenarios {
		h := Run(t, Load(t, name))
		assert.Empty(t, h.Result.Warnings, name)
	}
}
